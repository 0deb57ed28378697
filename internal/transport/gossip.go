package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"

	"github.com/weavenet/weave/internal/fetch"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/service"
	"github.com/weavenet/weave/internal/storage"
	"github.com/weavenet/weave/internal/wire"
)

// RepoOpener resolves a repository identity to the locally-held
// repository a fetch should run against, opening it on demand.
type RepoOpener func(rid nodeid.RepoId) (*storage.GitRepository, error)

// Node drives an internal/service.Service against a real libp2p host:
// it owns the single-threaded event loop spec.md §5 requires, turning
// libp2p stream/connection activity into Events and executing the
// resulting Io intents, including dispatching staged fetches onto a
// bounded worker pool.
type Node struct {
	Host    host.Host
	Service *service.Service
	Self    nodeid.NodeId
	Opener  RepoOpener

	// FetchLimit bounds the bytes of each pack a staged fetch accepts,
	// per the configured fetch_pack_receive limit of spec.md §7. Zero
	// means "use fetch.FetchLimit's default".
	FetchLimit int64

	events  chan service.Event
	fetches *errgroup.Group // bounds concurrent runFetch calls via SetLimit

	mu       sync.Mutex
	sessions map[nodeid.NodeId]network.Stream
}

// NewNode wires a Node around an already-constructed host and service.
// workers bounds how many staged fetches may run concurrently, per
// spec.md §5's per-fetch stream/object-store ownership rule. fetchLimit
// is the configured fetch_pack_receive byte budget applied to every
// staged fetch this node runs as the puller; 0 uses fetch.FetchLimit's
// default.
func NewNode(h host.Host, svc *service.Service, self nodeid.NodeId, opener RepoOpener, workers int, fetchLimit int64) *Node {
	if workers <= 0 {
		workers = 4
	}
	fetches := &errgroup.Group{}
	fetches.SetLimit(workers)

	n := &Node{
		Host:       h,
		Service:    svc,
		Self:       self,
		Opener:     opener,
		FetchLimit: fetchLimit,
		events:     make(chan service.Event, 64),
		fetches:    fetches,
		sessions:   make(map[nodeid.NodeId]network.Stream),
	}
	h.SetStreamHandler(GossipProtocol, n.handleGossipStream)
	return n
}

// Wait blocks until every in-flight fetch this Node dispatched has
// returned, for use during an orderly shutdown.
func (n *Node) Wait() { n.fetches.Wait() }

// SubmitCommand enqueues an operator-issued command onto the service
// loop's event channel. This is the only way an external caller (the
// daemon API) may mutate service state, preserving the single-writer
// rule of spec.md §5.
func (n *Node) SubmitCommand(cmd service.Command) {
	n.push(service.Event{Kind: service.EventCommand, Command: &cmd})
}

// Wake submits an EventWake, driving the connection-selection
// algorithm of spec.md §4.1 even absent other traffic. The caller
// (cmd/weaved) ticks this periodically; every Io{Kind: IoWakeup} the
// service returns thereafter reschedules itself via execute.
func (n *Node) Wake(now time.Time) {
	n.push(service.Event{Kind: service.EventWake, Wake: now})
}

// Run drains the event channel, driving Service.Step and executing
// every Io it returns, until ctx is cancelled. This is the only
// goroutine that ever calls Step, satisfying spec.md §5's single-
// threaded ownership rule.
func (n *Node) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.events:
			ios, err := n.Service.Step(ev, time.Now())
			if err != nil {
				continue
			}
			for _, io := range ios {
				n.execute(ctx, io)
			}
		}
	}
}

func (n *Node) push(ev service.Event) {
	select {
	case n.events <- ev:
	default:
		// Backpressure: the event channel only fills this deep when the
		// loop is badly behind, at which point the event (of whatever
		// kind) is dropped rather than blocking every stream handler
		// goroutine.
	}
}

func (n *Node) handleGossipStream(s network.Stream) {
	peerID := s.Conn().RemotePeer()
	node, err := NodeIdFor(peerID)
	if err != nil {
		s.Reset()
		return
	}

	n.mu.Lock()
	n.sessions[node] = s
	n.mu.Unlock()

	n.push(service.Event{
		Kind:      service.EventConnected,
		Connected: &service.ConnectedEvent{Peer: node, Link: service.LinkInbound},
	})
	n.readLoop(node, s)
}

func (n *Node) readLoop(node nodeid.NodeId, s network.Stream) {
	for {
		var msg wire.Message
		if err := msg.Decode(s); err != nil {
			n.mu.Lock()
			if n.sessions[node] == s {
				delete(n.sessions, node)
			}
			n.mu.Unlock()
			n.push(service.Event{
				Kind:         service.EventDisconnected,
				Disconnected: &service.DisconnectedEvent{Peer: node, Reason: service.DisconnectConnection, Cause: err},
			})
			return
		}
		n.push(service.Event{
			Kind:     service.EventReceived,
			Received: &service.ReceivedEvent{Peer: node, Message: msg},
		})
	}
}

// Dial opens an outbound gossip session to node at addr, connecting
// the underlying libp2p host first if necessary.
func (n *Node) Dial(ctx context.Context, node nodeid.NodeId, addr wire.Address) error {
	pid, err := PeerIDFor(node)
	if err != nil {
		return err
	}
	addrMa, err := MultiaddrFor(addr)
	if err != nil {
		return err
	}
	n.Host.Peerstore().AddAddr(pid, addrMa, time.Hour)

	if err := n.Host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{addrMa}}); err != nil {
		n.push(service.Event{Kind: service.EventAttempted, Attempted: &service.AttemptedEvent{Peer: node, Err: err}})
		return err
	}

	s, err := n.Host.NewStream(ctx, pid, GossipProtocol)
	if err != nil {
		n.push(service.Event{Kind: service.EventAttempted, Attempted: &service.AttemptedEvent{Peer: node, Err: err}})
		return err
	}

	n.mu.Lock()
	n.sessions[node] = s
	n.mu.Unlock()

	n.push(service.Event{
		Kind:      service.EventConnected,
		Connected: &service.ConnectedEvent{Peer: node, Link: service.LinkOutbound},
	})
	go n.readLoop(node, s)
	return nil
}

func (n *Node) disconnect(node nodeid.NodeId) {
	n.mu.Lock()
	s, ok := n.sessions[node]
	delete(n.sessions, node)
	n.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (n *Node) write(node nodeid.NodeId, msgs []wire.Message) error {
	n.mu.Lock()
	s, ok := n.sessions[node]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no session with %s", node)
	}
	for _, m := range msgs {
		if _, err := m.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

// execute performs one Io intent the service loop emitted.
func (n *Node) execute(ctx context.Context, io service.Io) {
	switch io.Kind {
	case service.IoWrite:
		_ = n.write(io.Peer, io.Messages)
	case service.IoConnect:
		go func() { _ = n.Dial(ctx, io.Peer, io.Addr) }()
	case service.IoDisconnect:
		n.disconnect(io.Peer)
	case service.IoWakeup:
		go func(after time.Duration) {
			t := time.NewTimer(after)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case now := <-t.C:
				n.push(service.Event{Kind: service.EventWake, Wake: now})
			}
		}(io.After)
	case service.IoFetch:
		// fetches.Go blocks once Workers fetches are already running, so
		// admission happens on its own goroutine rather than in this
		// loop: a saturated pool must not stall processing of other Io
		// (writes, disconnects, wakeups) for events already queued.
		go n.runFetch(ctx, io.Fetch)
	}
}

// runFetch admits one staged fetch onto the bounded worker pool and
// reports its outcome back as a CommandFetchComplete event, per
// spec.md §5's worker/loop handoff. At most Workers fetches run
// concurrently (enforced by the errgroup's SetLimit); each one owns its
// own libp2p stream and the target repository's object store for its
// duration.
func (n *Node) runFetch(ctx context.Context, intent *service.FetchIntent) {
	n.fetches.Go(func() error {
		err := n.fetchOnce(ctx, intent)
		n.push(service.Event{
			Kind: service.EventCommand,
			Command: &service.Command{
				Kind:        service.CommandFetchComplete,
				FetchResult: &service.FetchResult{Peer: intent.Remote, Rid: intent.Rid, Err: err},
			},
		})
		return nil
	})
}

func (n *Node) fetchOnce(ctx context.Context, intent *service.FetchIntent) error {
	repo, err := n.Opener(intent.Rid)
	if err != nil {
		return fmt.Errorf("transport: opening repository %s: %w", intent.Rid, err)
	}

	pid, err := PeerIDFor(intent.Remote)
	if err != nil {
		return err
	}
	client := &FetchClient{Host: n.Host, Peer: pid, Repo: intent.Rid, Into: repo}

	var plan fetch.Plan
	if intent.Pull {
		refsAt := make(map[nodeid.NodeId]nodeid.ObjectId, len(intent.RefsAt))
		for _, ra := range intent.RefsAt {
			refsAt[ra.Remote] = ra.Oid
		}
		plan = fetch.PullPlan(fetch.SigrefsAtStage{RefsAt: refsAt})
	} else {
		plan = fetch.ClonePlan()
	}

	st := &fetch.State{
		RemoteSelf:  intent.Remote,
		Scope:       fetch.Scope(intent.Scope),
		Delegates:   toSet(intent.Delegates),
		SeededPeers: intent.SeededPeers,
		Blocked:     toBlockedSet(intent.Blocked),
		FetchLimit:  n.FetchLimit,
	}
	return fetch.Run(ctx, repo, client, st, plan)
}

func toSet(ids []nodeid.NodeId) map[nodeid.NodeId]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[nodeid.NodeId]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func toBlockedSet(ids []nodeid.NodeId) map[nodeid.NodeId]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[nodeid.NodeId]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
