package fetch

import (
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// CanonicalIdStage is clone stage 1 (spec.md §4.2): ask only for the
// repository's top-level refs/rad/id, to anchor delegate discovery.
type CanonicalIdStage struct{}

func (CanonicalIdStage) Name() string { return "CanonicalId" }

func (CanonicalIdStage) LsRefsPrefixes(st *State) []string { return []string{string(RadId)} }

func (CanonicalIdStage) RefFilter(st *State, name storage.RefName) bool { return name == RadId }

func (CanonicalIdStage) PreValidate(st *State, advertised map[storage.RefName]nodeid.ObjectId) error {
	if _, ok := advertised[RadId]; !ok {
		return &MissingRequiredRefsError{Stage: "CanonicalId", Refs: []storage.RefName{RadId}}
	}
	return nil
}

func (CanonicalIdStage) WantsHaves(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) (wants, haves []nodeid.ObjectId, err error) {
	oid := advertised[RadId]
	if existing, rerr := repo.Resolve(RadId); rerr == nil {
		haves = append(haves, existing)
	}
	wants = append(wants, oid)
	return wants, haves, nil
}

func (CanonicalIdStage) SigrefsWanted(st *State) map[nodeid.NodeId]*nodeid.ObjectId { return nil }

// PrepareUpdates installs the remote's own rad/id under its namespace
// if the remote is itself among the repository's delegates.
func (CanonicalIdStage) PrepareUpdates(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) ([]storage.RefUpdate, error) {
	if _, isDelegate := st.Delegates[st.RemoteSelf]; !isDelegate {
		return nil, nil
	}
	oid := advertised[RadId]
	return []storage.RefUpdate{{Kind: storage.RefUpdateSet, Name: NamespacedRef(st.RemoteSelf, RadId), Oid: oid}}, nil
}

// SpecialRefsStage is clone stage 2 / pull stage 1 (spec.md §4.2): ask
// for each delegate's (and, if scope is all, each seeded peer's)
// rad/id and rad/sigrefs.
type SpecialRefsStage struct{}

func (SpecialRefsStage) Name() string { return "SpecialRefs" }

func (s SpecialRefsStage) peers(st *State) []nodeid.NodeId {
	peers := make([]nodeid.NodeId, 0, len(st.Delegates)+len(st.SeededPeers))
	for d := range st.Delegates {
		peers = append(peers, d)
	}
	if st.Scope == ScopeAll {
		for _, p := range st.SeededPeers {
			if _, isDelegate := st.Delegates[p]; !isDelegate {
				peers = append(peers, p)
			}
		}
	}
	return peers
}

func (s SpecialRefsStage) LsRefsPrefixes(st *State) []string {
	var prefixes []string
	for _, p := range s.peers(st) {
		prefixes = append(prefixes, Namespace(p))
	}
	return prefixes
}

func (s SpecialRefsStage) RefFilter(st *State, name storage.RefName) bool {
	for _, p := range s.peers(st) {
		if st.Blocked[p] {
			continue
		}
		ns := Namespace(p)
		if len(name) > len(ns) && string(name)[:len(ns)] == ns {
			return true
		}
	}
	return false
}

func (s SpecialRefsStage) PreValidate(st *State, advertised map[storage.RefName]nodeid.ObjectId) error {
	var missing []storage.RefName
	for _, p := range s.peers(st) {
		if st.Blocked[p] {
			continue
		}
		ref := NamespacedRef(p, RadSigrefs)
		if _, ok := advertised[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredRefsError{Stage: "SpecialRefs", Refs: missing}
	}
	return nil
}

func (s SpecialRefsStage) WantsHaves(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) (wants, haves []nodeid.ObjectId, err error) {
	for name, oid := range advertised {
		if existing, rerr := repo.Resolve(name); rerr == nil {
			haves = append(haves, existing)
			if existing == oid {
				continue
			}
		}
		wants = append(wants, oid)
	}
	return wants, haves, nil
}

func (s SpecialRefsStage) PrepareUpdates(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) ([]storage.RefUpdate, error) {
	var updates []storage.RefUpdate
	for name, oid := range advertised {
		updates = append(updates, storage.RefUpdate{Kind: storage.RefUpdateSet, Name: name, Oid: oid})
	}
	return updates, nil
}

// SigrefsWanted requires every non-blocked peer's rad/sigrefs, fetched
// at whatever commit the remote currently advertises.
func (s SpecialRefsStage) SigrefsWanted(st *State) map[nodeid.NodeId]*nodeid.ObjectId {
	wanted := make(map[nodeid.NodeId]*nodeid.ObjectId)
	for _, p := range s.peers(st) {
		if st.Blocked[p] {
			continue
		}
		wanted[p] = nil
	}
	return wanted
}

// DataRefsStage is the final clone/pull stage (spec.md §4.2): for
// every remote whose sigrefs we now have, compute wants from the
// sigrefs' authoritative ref list (no new ref names are requested —
// the sigrefs object is authoritative), and prepare set-ref/prune-ref
// updates accordingly.
type DataRefsStage struct{}

func (DataRefsStage) Name() string { return "DataRefs" }

func (DataRefsStage) LsRefsPrefixes(st *State) []string { return nil } // sigrefs is authoritative

func (DataRefsStage) RefFilter(st *State, name storage.RefName) bool { return false }

func (DataRefsStage) PreValidate(st *State, advertised map[storage.RefName]nodeid.ObjectId) error {
	return nil
}

func (DataRefsStage) SigrefsWanted(st *State) map[nodeid.NodeId]*nodeid.ObjectId { return nil }

func (DataRefsStage) WantsHaves(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) (wants, haves []nodeid.ObjectId, err error) {
	for _, sr := range st.Sigrefs {
		for _, name := range sr.Refs.SortedNames() {
			oid := sr.Refs[name]
			if existing, rerr := repo.Resolve(NamespacedRef(sr.Remote, name)); rerr == nil {
				haves = append(haves, existing)
				if existing == oid {
					continue
				}
			}
			wants = append(wants, oid)
		}
	}
	return wants, haves, nil
}

// PrepareUpdates sets every ref named in each remote's sigrefs, and
// prunes any existing non-rad/* ref under that remote's namespace that
// the sigrefs no longer lists. Per spec.md §9 ("Open questions"), refs
// under refs/rad/* are never pruned here, since they are managed by
// SpecialRefs/CanonicalId, not by a remote's own sigrefs listing.
func (DataRefsStage) PrepareUpdates(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) ([]storage.RefUpdate, error) {
	var updates []storage.RefUpdate
	for _, sr := range st.Sigrefs {
		listed := make(map[storage.RefName]struct{}, len(sr.Refs))
		for name, oid := range sr.Refs {
			qualified := NamespacedRef(sr.Remote, name)
			listed[qualified] = struct{}{}
			updates = append(updates, storage.RefUpdate{Kind: storage.RefUpdateSet, Name: qualified, Oid: oid})
		}

		ns := Namespace(sr.Remote)
		existing, err := repo.References(ns)
		if err != nil {
			return nil, err
		}
		for name := range existing {
			if isRadRef(string(name), ns) {
				continue
			}
			if _, ok := listed[name]; !ok {
				updates = append(updates, storage.RefUpdate{Kind: storage.RefUpdatePrune, Name: name})
			}
		}
	}
	return updates, nil
}

func isRadRef(name, ns string) bool {
	suffix := name[len(ns):]
	return len(suffix) >= 8 && suffix[:8] == "refs/rad"
}

// SigrefsAtStage substitutes SpecialRefs for pull fetches where the
// announcer supplied exact RefsAt values (spec.md §4.2 "Pull
// (incremental) stages"): each sigrefs is fetched at the announced
// commit directly, consulting the pre-fetch cache to skip redundant
// work.
type SigrefsAtStage struct {
	RefsAt map[nodeid.NodeId]nodeid.ObjectId
	Cached map[nodeid.NodeId]nodeid.ObjectId // remote -> cached tip, skip if equal
}

func (SigrefsAtStage) Name() string { return "SigrefsAt" }

func (s SigrefsAtStage) LsRefsPrefixes(st *State) []string { return nil }

func (s SigrefsAtStage) RefFilter(st *State, name storage.RefName) bool { return false }

func (s SigrefsAtStage) PreValidate(st *State, advertised map[storage.RefName]nodeid.ObjectId) error {
	return nil
}

// SigrefsWanted requires each announced remote's sigrefs at the exact
// commit the announcement named, skipping any this node already holds.
func (s SigrefsAtStage) SigrefsWanted(st *State) map[nodeid.NodeId]*nodeid.ObjectId {
	wanted := make(map[nodeid.NodeId]*nodeid.ObjectId, len(s.RefsAt))
	for remote, oid := range s.RefsAt {
		if cached, ok := s.Cached[remote]; ok && cached == oid {
			continue
		}
		oid := oid
		wanted[remote] = &oid
	}
	return wanted
}

func (s SigrefsAtStage) WantsHaves(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) (wants, haves []nodeid.ObjectId, err error) {
	for remote, oid := range s.RefsAt {
		if cached, ok := s.Cached[remote]; ok && cached == oid {
			continue
		}
		wants = append(wants, oid)
	}
	return wants, haves, nil
}

func (s SigrefsAtStage) PrepareUpdates(st *State, repo storage.ReadRepository, advertised map[storage.RefName]nodeid.ObjectId) ([]storage.RefUpdate, error) {
	return nil, nil
}
