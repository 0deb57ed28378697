package fetch

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/weavenet/weave/internal/canonical"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// FetchLimit is the default byte budget for each pack a Run fetches,
// mirroring the fetch_pack_receive capacity limit of spec.md §7. Each
// stage's Fetch call is bounded separately; the bytes of all stages
// together are not capped.
const FetchLimit = 512 * 1024 * 1024

// Plan selects the stage sequence for a fetch run: Clone runs all
// three stages to bootstrap a repository this node has never seen;
// Pull runs the two incremental stages against a repository it
// already holds.
type Plan []Stage

// ClonePlan is the full bootstrap sequence (spec.md §4.2 "Clone").
func ClonePlan() Plan {
	return Plan{CanonicalIdStage{}, SpecialRefsStage{}, DataRefsStage{}}
}

// PullPlan is the incremental sequence driven by an announcement that
// already names exact ref values (spec.md §4.2 "Pull").
func PullPlan(at SigrefsAtStage) Plan {
	return Plan{at, DataRefsStage{}}
}

// Run executes plan's stages in order against remote, staging ref
// updates in memory and applying them in one ApplyUpdates call only
// once every stage has pre-validated successfully. On any stage
// failure the State accumulated so far is discarded and no ref is
// moved. Whether that final call is all-or-nothing depends on repo:
// GitRepository writes the refs of the batch one by one.
func Run(ctx context.Context, repo storage.WriteRepository, remote Remote, st *State, plan Plan) error {
	limit := st.FetchLimit
	if limit <= 0 {
		limit = FetchLimit
	}

	for _, stage := range plan {
		prefixes := stage.LsRefsPrefixes(st)
		advertised, err := remote.Advertise(ctx, prefixes)
		if err != nil {
			return &IoError{Cause: fmt.Errorf("stage %s: %w", stage.Name(), err)}
		}

		filtered := make(map[storage.RefName]nodeid.ObjectId, len(advertised))
		for name, oid := range advertised {
			if stage.RefFilter(st, name) {
				filtered[name] = oid
			}
		}

		if err := stage.PreValidate(st, filtered); err != nil {
			return err
		}

		wants, haves, err := stage.WantsHaves(st, repo, filtered)
		if err != nil {
			return err
		}
		if len(wants) > 0 {
			if err := remote.Fetch(ctx, wants, haves, limit); err != nil {
				return err
			}
		}

		if err := fetchSigrefs(ctx, remote, st, stage); err != nil {
			return err
		}

		updates, err := stage.PrepareUpdates(st, repo, filtered)
		if err != nil {
			return err
		}
		st.Updates = append(st.Updates, updates...)
	}

	if err := repo.ApplyUpdates(st.Updates); err != nil {
		return &IoError{Cause: err}
	}

	if err := verifyReachable(repo, st); err != nil {
		return err
	}

	return nil
}

// fetchSigrefs populates st.Sigrefs for every namespace stage.
// SigrefsWanted names, verifying each blob's signature before it is
// trusted by a later stage.
func fetchSigrefs(ctx context.Context, remote Remote, st *State, stage Stage) error {
	for p, at := range stage.SigrefsWanted(st) {
		if _, done := st.Sigrefs[p]; done {
			continue
		}
		sr, err := remote.Sigrefs(ctx, p, at)
		if err != nil {
			return &VerificationError{Remote: p, Cause: err}
		}
		if !sr.Verify() {
			return &VerificationError{Remote: p, Cause: fmt.Errorf("invalid signature")}
		}
		if st.Sigrefs == nil {
			st.Sigrefs = make(map[nodeid.NodeId]storage.Sigrefs)
		}
		st.Sigrefs[p] = sr
	}
	return nil
}

// verifyReachable checks that every object a fetched sigrefs claims is
// actually present in the local object database after commit, per
// spec.md §4.2's post-commit validation requirement. A sigrefs that
// fails this check indicates either a buggy or a malicious remote; its
// updates are reported but not rolled back individually, since
// ApplyUpdates has already applied the whole batch — the caller is
// expected to re-run Fetch against a different remote.
func verifyReachable(repo storage.ReadRepository, st *State) error {
	for remote, sr := range st.Sigrefs {
		for name, oid := range sr.Refs {
			qualified := NamespacedRef(remote, name)
			resolved, err := repo.Resolve(qualified)
			if err != nil || resolved != oid {
				return &VerificationError{Remote: remote, Cause: fmt.Errorf("ref %s not reachable after commit", qualified)}
			}
		}
	}
	return nil
}

// Reconcile recomputes the repository's canonical tip from the
// delegate sigrefs now on file and installs it as refs/rad/id, per
// spec.md §4.3 ("Canonical-quorum rule"). The caller is responsible
// for separately producing and announcing this node's own sigrefs
// snapshot (internal/service), which is a signed wire message rather
// than a stored ref.
func Reconcile(repo storage.WriteRepository, quorum *canonical.Canonical) (nodeid.ObjectId, error) {
	tip, err := quorum.Quorum(repo)
	if err != nil {
		return nodeid.ObjectId{}, err
	}

	update := storage.RefUpdate{Kind: storage.RefUpdateSet, Name: RadId, Oid: tip}
	if err := repo.ApplyUpdates([]storage.RefUpdate{update}); err != nil {
		return nodeid.ObjectId{}, err
	}

	return tip, nil
}

// OwnSigrefs produces a freshly signed Sigrefs snapshot of self's
// current namespace, for announcement after a successful fetch or
// local ref change (spec.md §4.1 "Sigrefs").
func OwnSigrefs(repo storage.SigningRepository, self nodeid.NodeId) (storage.Sigrefs, error) {
	prefix := Namespace(self)
	refs, err := repo.References(prefix)
	if err != nil {
		return storage.Sigrefs{}, err
	}
	own := make(storage.Refs, len(refs))
	for name, oid := range refs {
		own[storage.RefName(string(name)[len(prefix):])] = oid
	}

	ts := nodeid.TimestampFromUnix(time.Now().Unix())
	return storage.Sign(repo.Signer(), own, ts), nil
}

// SigrefsStore is the repository capability PersistOwnSigrefs needs:
// sign/read access, the blob store backing refs/rad/sigrefs' content,
// and the ability to point that ref at a freshly written blob.
type SigrefsStore interface {
	storage.SigningRepository
	storage.WriteRepository
	storage.BlobStore
}

// PersistOwnSigrefs signs self's current namespace, writes the
// encoded snapshot as a blob, and points this node's own
// refs/rad/sigrefs at it, so that a later opSigrefs request from a
// peer (internal/transport) has something to serve. It returns the
// same signed value a caller would also announce over the gossip
// stream.
func PersistOwnSigrefs(repo SigrefsStore, self nodeid.NodeId) (storage.Sigrefs, error) {
	sr, err := OwnSigrefs(repo, self)
	if err != nil {
		return storage.Sigrefs{}, err
	}

	var buf bytes.Buffer
	if _, err := sr.Encode(&buf); err != nil {
		return storage.Sigrefs{}, err
	}
	oid, err := repo.WriteBlob(buf.Bytes())
	if err != nil {
		return storage.Sigrefs{}, err
	}

	update := storage.RefUpdate{Kind: storage.RefUpdateSet, Name: NamespacedRef(self, RadSigrefs), Oid: oid}
	if err := repo.ApplyUpdates([]storage.RefUpdate{update}); err != nil {
		return storage.Sigrefs{}, err
	}
	return sr, nil
}
