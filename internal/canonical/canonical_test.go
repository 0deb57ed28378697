package canonical

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/weavenet/weave/internal/nodeid"
)

// dag is a minimal in-memory commit graph used only to exercise the
// quorum reduction; it computes merge-base by ancestor-set intersection,
// which is sufficient for the tree-shaped and simple-merge fixtures used
// below (none of them are criss-cross merges with ambiguous bases).
type dag struct {
	parents map[nodeid.ObjectId][]nodeid.ObjectId
}

func newDag() *dag { return &dag{parents: make(map[nodeid.ObjectId][]nodeid.ObjectId)} }

func (d *dag) commit(t *testing.T, label string, parents ...nodeid.ObjectId) nodeid.ObjectId {
	t.Helper()
	digest := make([]byte, 20)
	copy(digest, []byte(label))
	oid, err := nodeid.NewObjectId(0x11, digest)
	if err != nil {
		t.Fatalf("NewObjectId(%s): %v", label, err)
	}
	d.parents[oid] = append([]nodeid.ObjectId{}, parents...)
	return oid
}

func (d *dag) ancestors(start nodeid.ObjectId) map[nodeid.ObjectId]bool {
	seen := map[nodeid.ObjectId]bool{start: true}
	queue := []nodeid.ObjectId{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range d.parents[cur] {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}

func (d *dag) isAncestor(a, b nodeid.ObjectId) bool {
	return d.ancestors(b)[a]
}

// MergeBase implements Repository by intersecting ancestor sets and
// returning whichever common ancestor is not itself an ancestor of
// another common ancestor (i.e. the most recent one).
func (d *dag) MergeBase(a, b nodeid.ObjectId) (nodeid.ObjectId, error) {
	if a == b {
		return a, nil
	}
	ancA := d.ancestors(a)
	ancB := d.ancestors(b)

	var common []nodeid.ObjectId
	for oid := range ancA {
		if ancB[oid] {
			common = append(common, oid)
		}
	}
	if len(common) == 0 {
		return nodeid.ObjectId{}, fmt.Errorf("no common ancestor between %s and %s", a, b)
	}

	best := common[0]
	for _, c := range common[1:] {
		if d.isAncestor(best, c) {
			best = c
		}
	}
	return best, nil
}

func TestQuorumSingleTip(t *testing.T) {
	d := newDag()
	c0 := d.commit(t, "c0")

	tips := map[nodeid.NodeId]nodeid.ObjectId{node(t, 1): c0}
	got, err := New(tips, 1).Quorum(d)
	if err != nil {
		t.Fatalf("Quorum: %v", err)
	}
	if got != c0 {
		t.Fatalf("got %s, want %s", got, c0)
	}
}

func TestQuorumNoCandidates(t *testing.T) {
	d := newDag()
	c0 := d.commit(t, "c0")

	tips := map[nodeid.NodeId]nodeid.ObjectId{node(t, 1): c0}
	_, err := New(tips, 2).Quorum(d)
	var nc *NoCandidatesError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NoCandidatesError, got %v", err)
	}

	_, err = New(nil, 0).Quorum(d)
	if !errors.As(err, &nc) {
		t.Fatalf("expected NoCandidatesError for empty tips, got %v", err)
	}
}

// fixture builds the DAG used throughout radicle's canonical.rs tests:
//
//	  M2  M1
//	  /\  /\
//	  \ B2 C2
//	   \  \|
//	   A1 C1
//	     \|
//	     C0
func fixture(t *testing.T) (d *dag, c0, c1, c2, c3, b2, a1, m1, m2 nodeid.ObjectId) {
	t.Helper()
	d = newDag()
	c0 = d.commit(t, "c0")
	c1 = d.commit(t, "c1", c0)
	c2 = d.commit(t, "c2", c1)
	c3 = d.commit(t, "c3", c1)
	b2 = d.commit(t, "b2", c1)
	a1 = d.commit(t, "a1", c0)
	m1 = d.commit(t, "m1", c2, b2)
	m2 = d.commit(t, "m2", a1, b2)
	return
}

func node(t *testing.T, seed byte) nodeid.NodeId {
	t.Helper()
	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	return nodeid.SignerFromSeed(s).NodeId()
}

func quorumOf(t *testing.T, d *dag, threshold int, heads ...nodeid.ObjectId) (nodeid.ObjectId, error) {
	t.Helper()
	tips := make(map[nodeid.NodeId]nodeid.ObjectId, len(heads))
	for i, h := range heads {
		tips[node(t, byte(i+1))] = h
	}
	return New(tips, threshold).Quorum(d)
}

func assertDiverging(t *testing.T, err error) {
	t.Helper()
	var de *DivergingError
	if !errors.As(err, &de) {
		t.Fatalf("expected DivergingError, got %v", err)
	}
}

func assertNoCandidates(t *testing.T, err error) {
	t.Helper()
	var nc *NoCandidatesError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NoCandidatesError, got %v", err)
	}
}

func TestQuorumLinearChain(t *testing.T) {
	d, c0, c1, c2, _, _, _, _, _ := fixture(t)

	if got, err := quorumOf(t, d, 1, c1); err != nil || got != c1 {
		t.Fatalf("got %v, %v; want %s", got, err, c1)
	}
	if got, err := quorumOf(t, d, 1, c2); err != nil || got != c2 {
		t.Fatalf("got %v, %v; want %s", got, err, c2)
	}
	if got, err := quorumOf(t, d, 1, c1, c2); err != nil || got != c2 {
		t.Fatalf("chain vote: got %v, %v; want %s", got, err, c2)
	}
	if got, err := quorumOf(t, d, 2, c1, c2); err != nil || got != c1 {
		t.Fatalf("chain vote threshold 2: got %v, %v; want %s", got, err, c1)
	}
	if got, err := quorumOf(t, d, 3, c0, c1, c2); err != nil || got != c0 {
		t.Fatalf("3-way chain vote: got %v, %v; want %s", got, err, c0)
	}
}

func TestQuorumDiverging(t *testing.T) {
	d, _, c1, c2, _, b2, _, _, _ := fixture(t)

	_, err := quorumOf(t, d, 1, c1, c2, b2)
	assertDiverging(t, err)

	_, err = quorumOf(t, d, 1, c2, b2)
	assertDiverging(t, err)

	_, err = quorumOf(t, d, 2, c2, b2)
	assertNoCandidates(t, err)

	if got, err := quorumOf(t, d, 2, c1, c2, b2); err != nil || got != c1 {
		t.Fatalf("got %v, %v; want %s", got, err, c1)
	}
}

func TestQuorumMergeCommit(t *testing.T) {
	d, _, c1, c2, _, b2, a1, m1, m2 := fixture(t)

	if got, err := quorumOf(t, d, 1, m1); err != nil || got != m1 {
		t.Fatalf("got %v, %v; want %s", got, err, m1)
	}
	_, err := quorumOf(t, d, 1, m1, m2)
	assertDiverging(t, err)

	_, err = quorumOf(t, d, 1, m1, m2, c2)
	assertDiverging(t, err)

	_, err = quorumOf(t, d, 1, m1, a1)
	assertDiverging(t, err)

	_, err = quorumOf(t, d, 2, m1, a1)
	assertNoCandidates(t, err)

	if got, err := quorumOf(t, d, 2, m1, m1, b2); err != nil || got != m1 {
		t.Fatalf("got %v, %v; want %s", got, err, m1)
	}
	if got, err := quorumOf(t, d, 2, m2, m2, a1); err != nil || got != m2 {
		t.Fatalf("got %v, %v; want %s", got, err, m2)
	}
}

func TestQuorumCrissCrossMerges(t *testing.T) {
	d := newDag()
	c0 := d.commit(t, "c0")
	c1 := d.commit(t, "c1", c0)
	c2 := d.commit(t, "c2", c0)
	c3 := d.commit(t, "c3", c0)
	m1 := d.commit(t, "m1", c1, c2)
	m2 := d.commit(t, "m2", c2, c3)

	_, err := quorumOf(t, d, 1, m1, m2)
	assertDiverging(t, err)
	_, err = quorumOf(t, d, 2, m1, m2)
	assertNoCandidates(t, err)
}

// TestQuorumInvariantResultIsAnInputOrMergeBase checks the core quorum
// invariant with randomized head selections: whenever quorum succeeds,
// its result is always reachable from the set of given heads (it is
// either one of the heads or an ancestor shared by at least two of
// them), never something unrelated.
func TestQuorumInvariantResultIsAnInputOrMergeBase(t *testing.T) {
	d, c0, c1, c2, c3, b2, a1, m1, m2 := fixture(t)
	choices := []nodeid.ObjectId{c0, c1, c2, c3, b2, a1, m1, m2}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		count := 1 + rng.Intn(len(choices))
		threshold := 1 + rng.Intn(count)

		heads := make([]nodeid.ObjectId, count)
		for j := range heads {
			heads[j] = choices[rng.Intn(len(choices))]
		}

		got, err := quorumOf(t, d, threshold, heads...)
		if err != nil {
			continue
		}

		reachable := false
		for _, h := range heads {
			if got == h || d.isAncestor(got, h) || d.isAncestor(h, got) {
				reachable = true
				break
			}
		}
		if !reachable {
			t.Fatalf("quorum result %s not reachable from any head in %v (threshold %d)", got, heads, threshold)
		}
	}
}
