// Package canonical implements the canonical-quorum reduction: turning
// a set of per-delegate signed commit tips into a single canonical
// commit, or a well-defined error when no such commit exists.
package canonical

import (
	"fmt"

	"github.com/weavenet/weave/internal/nodeid"
)

// Repository is the narrow read capability the quorum calculation
// needs: the ability to compute the merge base of two commits.
type Repository interface {
	MergeBase(a, b nodeid.ObjectId) (nodeid.ObjectId, error)
}

// Canonical holds one tip per delegate (identified by NodeId) for some
// reference, plus the threshold of agreeing histories required to
// consider a commit canonical.
type Canonical struct {
	tips      map[nodeid.NodeId]nodeid.ObjectId
	threshold int
}

// New builds a Canonical from a delegate-to-tip map and a threshold.
// Delegates with no recorded tip for the reference in question should
// simply be absent from tips, not mapped to a zero ObjectId.
func New(tips map[nodeid.NodeId]nodeid.ObjectId, threshold int) *Canonical {
	copied := make(map[nodeid.NodeId]nodeid.ObjectId, len(tips))
	for k, v := range tips {
		copied[k] = v
	}
	return &Canonical{tips: copied, threshold: threshold}
}

// ModifyVote overrides (or adds) a single delegate's vote, without
// rebuilding the whole structure. Used to speculatively check whether a
// new commit would reach quorum before it is actually pushed.
func (c *Canonical) ModifyVote(did nodeid.NodeId, tip nodeid.ObjectId) {
	c.tips[did] = tip
}

// Tips returns a copy of the current delegate-to-tip map.
func (c *Canonical) Tips() map[nodeid.NodeId]nodeid.ObjectId {
	copied := make(map[nodeid.NodeId]nodeid.ObjectId, len(c.tips))
	for k, v := range c.tips {
		copied[k] = v
	}
	return copied
}

// NoCandidatesError reports that no commit reached the configured
// threshold of votes.
type NoCandidatesError struct {
	Threshold int
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no commit found with at least %d vote(s) (threshold not met)", e.Threshold)
}

// DivergingError reports that two or more commits passed the threshold
// but are not ancestor/descendant of one another.
type DivergingError struct {
	Threshold       int
	Base, Longest, Head nodeid.ObjectId
}

func (e *DivergingError) Error() string {
	return fmt.Sprintf(
		"found diverging commits %s and %s, with base commit %s and threshold %d",
		e.Longest, e.Head, e.Base, e.Threshold,
	)
}

// Quorum computes the canonical tip: the latest commit included in the
// history of at least Threshold delegates. A commit earns a vote
// directly (it is some delegate's tip) or indirectly (it is the merge
// base of two distinct tips, and thus an ancestor of both).
//
// Candidates are reduced to the single longest chain by scanning for a
// commit that is a descendant of every other candidate; if no candidate
// descends from all the others, the set has diverged and
// DivergingError is returned. The scan's starting candidate is chosen
// by Go's randomized map iteration order — by construction this does
// not change whether the calculation succeeds or what it returns, only
// which pair of commits a divergence error happens to name.
func (c *Canonical) Quorum(repo Repository) (nodeid.ObjectId, error) {
	heads := make([]nodeid.ObjectId, 0, len(c.tips))
	for _, tip := range c.tips {
		heads = append(heads, tip)
	}

	candidates := make(map[nodeid.ObjectId]int)
	for i, head := range heads {
		candidates[head]++

		for _, other := range heads[i+1:] {
			if head == other {
				continue
			}
			base, err := repo.MergeBase(head, other)
			if err != nil {
				return nodeid.ObjectId{}, err
			}
			if base == other || base == head {
				candidates[base]++
			}
		}
	}

	for oid, votes := range candidates {
		if votes < c.threshold {
			delete(candidates, oid)
		}
	}

	if len(candidates) == 0 {
		return nodeid.ObjectId{}, &NoCandidatesError{Threshold: c.threshold}
	}

	var longest nodeid.ObjectId
	first := true
	for oid := range candidates {
		if first {
			longest = oid
			first = false
			continue
		}

		head := oid
		base, err := repo.MergeBase(head, longest)
		if err != nil {
			return nodeid.ObjectId{}, err
		}
		switch {
		case base == longest:
			// head is a descendant of longest; it supersedes it.
			longest = head
		case base == head || head == longest:
			// head is an ancestor of longest, or equal to it; no change.
		default:
			// head diverges from longest so far; a later candidate may
			// still descend from both, so the pass below decides.
		}
	}
	for head := range candidates {
		base, err := repo.MergeBase(head, longest)
		if err != nil {
			return nodeid.ObjectId{}, err
		}
		if base != head {
			return nodeid.ObjectId{}, &DivergingError{
				Threshold: c.threshold,
				Base:      base,
				Longest:   longest,
				Head:      head,
			}
		}
	}
	return longest, nil
}
