package wire

import (
	"bytes"
	"testing"

	"github.com/weavenet/weave/internal/filter"
	"github.com/weavenet/weave/internal/nodeid"
	"pgregory.net/rapid"
)

func roundTrip(t *testing.T, enc Encoder, decoded Decoder) {
	t.Helper()
	var buf bytes.Buffer
	if _, err := enc.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := decoded.Decode(newReader(buf.Bytes())); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func mustObjectId(t *testing.T, n byte) nodeid.ObjectId {
	t.Helper()
	digest := bytes.Repeat([]byte{n}, 20)
	oid, err := nodeid.NewObjectId(0x11, digest) // mh.SHA1
	if err != nil {
		t.Fatalf("NewObjectId: %v", err)
	}
	return oid
}

func TestSubscribeRoundTrip(t *testing.T) {
	f := filter.New()
	sub := SubscribeAll(f)

	var got Subscribe
	roundTrip(t, sub, &got)

	if got.Since != sub.Since || got.Until != sub.Until {
		t.Fatalf("mismatch: got %+v want %+v", got, sub)
	}
}

func TestNodeAnnouncementAddressLimitBoundary(t *testing.T) {
	addrs := make([]Address, AddressLimit)
	for i := range addrs {
		a, err := NewIPAddress([]byte{127, 0, 0, byte(i + 1)}, uint16(1000+i))
		if err != nil {
			t.Fatalf("NewIPAddress: %v", err)
		}
		addrs[i] = a
	}
	na := NodeAnnouncement{
		Features:  1,
		Timestamp: 12345,
		Alias:     "node-at-the-limit",
		Addresses: addrs,
		Nonce:     99,
	}

	var got NodeAnnouncement
	roundTrip(t, na, &got)

	if len(got.Addresses) != AddressLimit {
		t.Fatalf("got %d addresses, want %d", len(got.Addresses), AddressLimit)
	}
	if got.Alias != na.Alias || got.Nonce != na.Nonce {
		t.Fatalf("mismatch: got %+v want %+v", got, na)
	}

	// One over the limit must fail to encode.
	over := na
	over.Addresses = append(append([]Address{}, addrs...), addrs[0])
	var buf bytes.Buffer
	if _, err := over.Encode(&buf); err == nil {
		t.Fatal("expected encode to fail when exceeding AddressLimit")
	}
}

func TestInventoryAnnouncementLimitBoundary(t *testing.T) {
	inv := make([]nodeid.RepoId, InventoryLimit)
	for i := range inv {
		inv[i] = nodeid.RepoId{Oid: mustObjectId(t, byte(i%256))}
	}
	ann := InventoryAnnouncement{Inventory: inv, Timestamp: 1}

	var got InventoryAnnouncement
	roundTrip(t, ann, &got)

	if len(got.Inventory) != InventoryLimit {
		t.Fatalf("got %d entries, want %d", len(got.Inventory), InventoryLimit)
	}

	over := ann
	over.Inventory = append(append([]nodeid.RepoId{}, inv...), inv[0])
	var buf bytes.Buffer
	if _, err := over.Encode(&buf); err == nil {
		t.Fatal("expected encode to fail when exceeding InventoryLimit")
	}
}

func TestRefsAnnouncementLimitBoundary(t *testing.T) {
	signer, err := nodeid.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	refs := make([]RefsAt, RefRemoteLimit)
	for i := range refs {
		refs[i] = RefsAt{Remote: signer.NodeId(), Oid: mustObjectId(t, byte(i%256))}
	}
	ann := RefsAnnouncement{
		Rid:       nodeid.RepoId{Oid: mustObjectId(t, 7)},
		Refs:      refs,
		Timestamp: 42,
	}

	var got RefsAnnouncement
	roundTrip(t, ann, &got)
	if len(got.Refs) != RefRemoteLimit {
		t.Fatalf("got %d refs, want %d", len(got.Refs), RefRemoteLimit)
	}

	over := ann
	over.Refs = append(append([]RefsAt{}, refs...), refs[0])
	var buf bytes.Buffer
	if _, err := over.Encode(&buf); err == nil {
		t.Fatal("expected encode to fail when exceeding RefRemoteLimit")
	}
}

func TestAnnouncementSignAndVerify(t *testing.T) {
	signer, err := nodeid.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	msg := AnnouncementMessage{
		Kind: AnnouncementKindInventory,
		Inventory: &InventoryAnnouncement{
			Inventory: []nodeid.RepoId{{Oid: mustObjectId(t, 1)}},
			Timestamp: 1,
		},
	}
	ann := Announcement{Node: signer.NodeId(), Message: msg}
	ann.Signature = signer.Sign(ann.SignedBytes())

	if !ann.Verify() {
		t.Fatal("expected signature to verify")
	}

	var got Announcement
	roundTrip(t, ann, &got)
	if !got.Verify() {
		t.Fatal("expected round-tripped signature to still verify")
	}

	tampered := got
	tampered.Message.Inventory.Timestamp++
	if tampered.Verify() {
		t.Fatal("expected tampered announcement to fail verification")
	}
}

func TestAnnouncementMatchesFilter(t *testing.T) {
	rid := nodeid.RepoId{Oid: mustObjectId(t, 3)}
	other := nodeid.RepoId{Oid: mustObjectId(t, 4)}

	f := filter.New()
	f.Insert(rid)

	refsAnn := Announcement{
		Message: AnnouncementMessage{
			Kind: AnnouncementKindRefs,
			Refs: &RefsAnnouncement{Rid: rid},
		},
	}
	if !refsAnn.Matches(f) {
		t.Fatal("expected refs announcement for a filtered repo to match")
	}

	missAnn := Announcement{
		Message: AnnouncementMessage{
			Kind: AnnouncementKindRefs,
			Refs: &RefsAnnouncement{Rid: other},
		},
	}
	if missAnn.Matches(f) {
		t.Fatal("expected refs announcement for an unfiltered repo to not match")
	}

	nodeAnn := Announcement{Message: AnnouncementMessage{Kind: AnnouncementKindNode, Node: &NodeAnnouncement{}}}
	if !nodeAnn.Matches(f) {
		t.Fatal("expected node announcements to always match")
	}

	invAnn := Announcement{
		Message: AnnouncementMessage{
			Kind:      AnnouncementKindInventory,
			Inventory: &InventoryAnnouncement{Inventory: []nodeid.RepoId{other}},
		},
	}
	if !invAnn.Matches(f) {
		t.Fatal("expected inventory announcements to always match, even for a repo outside the filter")
	}
}

func TestMessageDispatchRoundTrip(t *testing.T) {
	pp := Message{Kind: MessageKindPing, Ping: &Ping{PongLen: 16, Zeroes: ZeroBytes{Len: 4}}}

	var buf bytes.Buffer
	if _, err := pp.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got Message
	if err := got.Decode(newReader(buf.Bytes())); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != MessageKindPing || got.Ping.PongLen != 16 || got.Ping.Zeroes.Len != 4 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestUnknownMessageKindRejected(t *testing.T) {
	var buf bytes.Buffer
	_, _ = PutUint8(&buf, 0xEE)
	var got Message
	if err := got.Decode(newReader(buf.Bytes())); err == nil {
		t.Fatal("expected unknown message kind to fail decoding")
	}
}

func TestPrimitiveRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Uint64().Draw(rt, "v")
		var buf bytes.Buffer
		if _, err := PutUint64(&buf, v); err != nil {
			rt.Fatalf("encode: %v", err)
		}
		got, err := ReadUint64(newReader(buf.Bytes()))
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		if got != v {
			rt.Fatalf("got %d, want %d", got, v)
		}
	})
}

func TestAddressLimitBoundaryProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, AddressLimit).Draw(rt, "n")
		addrs := make([]Address, n)
		for i := range addrs {
			a, err := NewIPAddress([]byte{127, 0, 0, 1}, uint16(1000+i))
			if err != nil {
				rt.Fatalf("NewIPAddress: %v", err)
			}
			addrs[i] = a
		}
		na := NodeAnnouncement{Addresses: addrs}
		var buf bytes.Buffer
		if _, err := na.Encode(&buf); err != nil {
			rt.Fatalf("encode: %v", err)
		}
		var got NodeAnnouncement
		if err := got.Decode(newReader(buf.Bytes())); err != nil {
			rt.Fatalf("decode: %v", err)
		}
		if len(got.Addresses) != n {
			rt.Fatalf("got %d addresses, want %d", len(got.Addresses), n)
		}
	})
}
