package service

import (
	"time"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/wire"
)

// Event is the sum type of everything that can arrive on the service
// loop's single input channel, per spec.md §4.1 ("Inputs") and §5
// ("The service loop suspends only on its input channel").
type Event struct {
	Kind EventKind

	Connected    *ConnectedEvent
	Attempted    *AttemptedEvent
	Disconnected *DisconnectedEvent
	Received     *ReceivedEvent
	Command      *Command
	Wake         time.Time
}

type EventKind uint8

const (
	EventConnected EventKind = iota
	EventAttempted
	EventDisconnected
	EventReceived
	EventCommand
	EventWake
)

type ConnectedEvent struct {
	Peer nodeid.NodeId
	Link LinkDirection
}

type AttemptedEvent struct {
	Peer nodeid.NodeId
	Err  error
}

type DisconnectedEvent struct {
	Peer   nodeid.NodeId
	Reason DisconnectReason
	Cause  error
}

type ReceivedEvent struct {
	Peer    nodeid.NodeId
	Message wire.Message
}

// CommandKind tags the operator-facing mutating commands, per spec.md
// §4.1's "command (connect/disconnect/announce/seed/unseed/follow/
// fetch-complete)".
type CommandKind uint8

const (
	CommandConnect CommandKind = iota
	CommandDisconnect
	CommandAnnounce
	CommandSeed
	CommandUnseed
	CommandFollow
	CommandFetchComplete
)

type Command struct {
	Kind CommandKind

	Peer    nodeid.NodeId
	Addr    wire.Address
	Rid     nodeid.RepoId
	Scope   policy.Scope
	Alias   nodeid.Alias
	Message *wire.Announcement

	FetchResult *FetchResult
}

// FetchResult is reported back to the service loop by a fetch worker
// once a staged fetch against some peer completes (spec.md §4.1's
// "fetch-complete" command, §5's "workers ... surrender [resources]
// back to the service loop via a result message").
type FetchResult struct {
	Peer nodeid.NodeId
	Rid  nodeid.RepoId
	Err  error
}

// IoKind tags the outgoing intents the service loop emits, per
// spec.md §4.1 ("Outputs (I/O intents)").
type IoKind uint8

const (
	IoWrite IoKind = iota
	IoConnect
	IoDisconnect
	IoWakeup
	IoFetch
)

// Io is a single I/O intent the caller (the transport layer) must act
// on; the service loop itself performs no I/O.
type Io struct {
	Kind IoKind

	Peer     nodeid.NodeId
	Messages []wire.Message

	Addr wire.Address

	Reason DisconnectReason

	After time.Duration

	Fetch *FetchIntent
}

// FetchIntent requests that the fetch orchestrator run a staged fetch
// against Remote for Rid, optionally anchored at an announced RefsAt
// set (the SigrefsAt stage variant of spec.md §4.2).
type FetchIntent struct {
	Rid    nodeid.RepoId
	Remote nodeid.NodeId
	RefsAt []wire.RefsAt
	Pull   bool // false => full clone stage sequence

	// Scope, Delegates, SeededPeers and Blocked are the service loop's
	// snapshot of this repository's seeding policy and known delegate
	// set at the moment the fetch was scheduled, threaded through so the
	// transport layer can populate fetch.State without its own access to
	// the policy/routing stores.
	Scope       FetchScope
	Delegates   []nodeid.NodeId
	SeededPeers []nodeid.NodeId
	Blocked     []nodeid.NodeId
}

// FetchScope mirrors internal/fetch.Scope without importing it, keeping
// this package's dependency surface narrow.
type FetchScope uint8

const (
	FetchScopeFollowed FetchScope = iota
	FetchScopeAll
)
