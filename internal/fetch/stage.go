// Package fetch implements the staged fetch protocol of spec.md §4.2:
// a sequence of single-round-trip stages that turn an announcement
// into a safe, bounded, verified update of local storage.
package fetch

import (
	"context"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// Remote is the narrow capability the fetch orchestrator needs against
// one connected peer: advertise refs, fetch objects into the local
// object database, and fetch a parsed, verified sigrefs snapshot. A
// concrete implementation (internal/transport) tunnels these over the
// already-authenticated gossip/fetch stream per spec.md §4.2
// "Transport"; tests use an in-memory fake.
type Remote interface {
	// Advertise returns every ref under the given prefixes that the
	// remote is willing to show ("ls_refs").
	Advertise(ctx context.Context, prefixes []string) (map[storage.RefName]nodeid.ObjectId, error)

	// Fetch pulls every object reachable from wants that isn't already
	// reachable from haves into the local object database, aborting
	// with a *SizeLimitError if the pack would exceed limit bytes.
	Fetch(ctx context.Context, wants, haves []nodeid.ObjectId, limit int64) error

	// Sigrefs fetches and verifies one namespace's signed-refs blob. If
	// at is non-nil, the remote is asked for the sigrefs ref's value at
	// that exact commit (the SigrefsAt variant of spec.md §4.2).
	Sigrefs(ctx context.Context, namespace nodeid.NodeId, at *nodeid.ObjectId) (storage.Sigrefs, error)
}

// State threads information between stages within a single fetch run:
// what's been advertised, which namespaces now have a verified
// sigrefs, and the update set staged so far (spec.md §4.2 "Commit
// discipline": "each stage's updates are staged in memory").
type State struct {
	Scope          Scope
	Delegates      map[nodeid.NodeId]struct{}
	SeededPeers    []nodeid.NodeId
	Blocked        map[nodeid.NodeId]bool
	RemoteSelf     nodeid.NodeId

	Sigrefs map[nodeid.NodeId]storage.Sigrefs // namespace -> verified sigrefs
	Updates []storage.RefUpdate

	// FetchLimit bounds the bytes of each pack Run fetches, per the
	// configured fetch_pack_receive limit of spec.md §7; each stage's
	// Fetch call is bounded separately. Zero means "use the default"
	// (fetch.FetchLimit).
	FetchLimit int64
}

// Scope mirrors internal/policy.Scope without importing it, to keep
// this package's dependency surface narrow and independently testable.
type Scope uint8

const (
	ScopeFollowed Scope = iota
	ScopeAll
)

// Stage is one round trip of the staged fetch protocol, per spec.md
// §9 ("Control flow in the fetch protocol"): an object exposing
// {ls_refs, ref_filter, pre_validate, wants_haves, prepare_updates}.
type Stage interface {
	Name() string

	// LsRefsPrefixes returns the ref-name prefixes to advertise for.
	LsRefsPrefixes(st *State) []string

	// RefFilter additionally filters the advertisement, e.g. to drop
	// blocked peers' namespaces.
	RefFilter(st *State, name storage.RefName) bool

	// PreValidate checks that every ref this stage requires is present
	// in the (already-filtered) advertisement.
	PreValidate(st *State, advertised map[storage.RefName]nodeid.ObjectId) error

	// WantsHaves builds the wants/haves object sets for this stage's
	// Fetch call.
	WantsHaves(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) (wants, haves []nodeid.ObjectId, err error)

	// PrepareUpdates builds the ref updates this stage will contribute
	// to the final ApplyUpdates batch.
	PrepareUpdates(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) ([]storage.RefUpdate, error)

	// SigrefsWanted returns the namespaces this stage needs a verified
	// Sigrefs for, and (when known in advance, as for a pull driven by
	// an announcement) the exact commit to fetch it at. A nil value
	// means "whatever the remote currently advertises".
	SigrefsWanted(st *State) map[nodeid.NodeId]*nodeid.ObjectId
}
