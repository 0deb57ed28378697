package service

import (
	"container/list"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/wire"
)

// replayKey identifies an announcement for dedup/relay-loop purposes:
// (node, variant, timestamp). Duplicate keys are dropped outright per
// spec.md §4.1 ("duplicate replays are dropped").
type replayKey struct {
	node      nodeid.NodeId
	kind      wire.AnnouncementKind
	timestamp nodeid.Timestamp
}

// dedupLRU is a bounded LRU set of recently-accepted announcement
// keys, owned exclusively by the service loop (spec.md §5: "An LRU of
// recent announcements ... owned exclusively by the service loop").
type dedupLRU struct {
	capacity int
	ll       *list.List
	index    map[replayKey]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[replayKey]*list.Element, capacity),
	}
}

// SeenBefore reports whether key was already recorded, without
// mutating the LRU.
func (d *dedupLRU) SeenBefore(key replayKey) bool {
	_, ok := d.index[key]
	return ok
}

// Record marks key as seen, evicting the least-recently-used entry if
// the LRU is at capacity.
func (d *dedupLRU) Record(key replayKey) {
	if el, ok := d.index[key]; ok {
		d.ll.MoveToFront(el)
		return
	}
	el := d.ll.PushFront(key)
	d.index[key] = el
	if d.ll.Len() > d.capacity {
		oldest := d.ll.Back()
		if oldest != nil {
			d.ll.Remove(oldest)
			delete(d.index, oldest.Value.(replayKey))
		}
	}
}

func keyOf(a wire.Announcement) replayKey {
	return replayKey{node: a.Node, kind: a.Message.Kind, timestamp: a.Timestamp()}
}
