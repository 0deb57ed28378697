package wire

import (
	"fmt"
	"io"

	"github.com/weavenet/weave/internal/filter"
	"github.com/weavenet/weave/internal/nodeid"
)

// Subscribe asks a peer to start (or stop) relaying announcements that
// match Filter and whose timestamp falls in [Since, Until).
type Subscribe struct {
	Filter *filter.Filter
	Since  nodeid.Timestamp
	Until  nodeid.Timestamp
}

// SubscribeAll builds a Subscribe that matches every repository
// announcement from the beginning of time onward.
func SubscribeAll(f *filter.Filter) Subscribe {
	return Subscribe{Filter: f, Since: 0, Until: ^nodeid.Timestamp(0)}
}

func (s Subscribe) Encode(w io.Writer) (int, error) {
	n, err := EncodeFilter(w, s.Filter)
	if err != nil {
		return n, err
	}
	m, err := PutUint64(w, uint64(s.Since))
	n += m
	if err != nil {
		return n, err
	}
	m, err = PutUint64(w, uint64(s.Until))
	return n + m, err
}

func (s *Subscribe) Decode(r io.Reader) error {
	f, err := DecodeFilter(r)
	if err != nil {
		return err
	}
	since, err := ReadUint64(r)
	if err != nil {
		return err
	}
	until, err := ReadUint64(r)
	if err != nil {
		return err
	}
	s.Filter = f
	s.Since = nodeid.Timestamp(since)
	s.Until = nodeid.Timestamp(until)
	return nil
}

// NodeFeatures is a bitset of optional protocol capabilities a node
// advertises in its NodeAnnouncement.
type NodeFeatures uint64

// NodeAnnouncement broadcasts a node's identity, advertised listen
// addresses, and proof-of-work nonce.
type NodeAnnouncement struct {
	Features  NodeFeatures
	Timestamp nodeid.Timestamp
	Alias     nodeid.Alias
	Addresses []Address
	Nonce     uint64
}

func (n NodeAnnouncement) Encode(w io.Writer) (int, error) {
	total := 0
	m, err := PutUint64(w, uint64(n.Features))
	total += m
	if err != nil {
		return total, err
	}
	m, err = PutUint64(w, uint64(n.Timestamp))
	total += m
	if err != nil {
		return total, err
	}
	m, err = PutString(w, string(n.Alias))
	total += m
	if err != nil {
		return total, err
	}
	m, err = EncodeSlice(w, n.Addresses, AddressLimit)
	total += m
	if err != nil {
		return total, err
	}
	m, err = PutUint64(w, n.Nonce)
	return total + m, err
}

func (n *NodeAnnouncement) Decode(r io.Reader) error {
	features, err := ReadUint64(r)
	if err != nil {
		return err
	}
	ts, err := ReadUint64(r)
	if err != nil {
		return err
	}
	alias, err := ReadString(r)
	if err != nil {
		return err
	}
	addrs, err := DecodeSlice(r, AddressLimit, func() *Address { return &Address{} })
	if err != nil {
		return err
	}
	nonce, err := ReadUint64(r)
	if err != nil {
		return err
	}
	n.Features = NodeFeatures(features)
	n.Timestamp = nodeid.Timestamp(ts)
	n.Alias = nodeid.Alias(alias)
	n.Addresses = make([]Address, len(addrs))
	for i, a := range addrs {
		n.Addresses[i] = *a
	}
	n.Nonce = nonce
	return nil
}

// InventoryAnnouncement broadcasts the set of repositories a node is
// currently seeding.
type InventoryAnnouncement struct {
	Inventory []nodeid.RepoId
	Timestamp nodeid.Timestamp
}

// repoIdBox adapts nodeid.RepoId (a plain struct, not an Encoder) to the
// Encoder/Decoder interfaces expected by EncodeSlice/DecodeSlice.
type repoIdBox struct{ nodeid.RepoId }

func (b repoIdBox) Encode(w io.Writer) (int, error) { return EncodeRepoId(w, b.RepoId) }
func (b *repoIdBox) Decode(r io.Reader) error {
	rid, err := DecodeRepoId(r)
	if err != nil {
		return err
	}
	b.RepoId = rid
	return nil
}

func (inv InventoryAnnouncement) Encode(w io.Writer) (int, error) {
	boxed := make([]repoIdBox, len(inv.Inventory))
	for i, rid := range inv.Inventory {
		boxed[i] = repoIdBox{rid}
	}
	n, err := EncodeSlice(w, boxed, InventoryLimit)
	if err != nil {
		return n, err
	}
	m, err := PutUint64(w, uint64(inv.Timestamp))
	return n + m, err
}

func (inv *InventoryAnnouncement) Decode(r io.Reader) error {
	boxed, err := DecodeSlice(r, InventoryLimit, func() *repoIdBox { return &repoIdBox{} })
	if err != nil {
		return err
	}
	ts, err := ReadUint64(r)
	if err != nil {
		return err
	}
	inv.Inventory = make([]nodeid.RepoId, len(boxed))
	for i, b := range boxed {
		inv.Inventory[i] = b.RepoId
	}
	inv.Timestamp = nodeid.Timestamp(ts)
	return nil
}

// RefsAt pairs a remote peer's signed-refs tip with the remote itself,
// as carried in a RefsAnnouncement.
type RefsAt struct {
	Remote nodeid.NodeId
	Oid    nodeid.ObjectId
}

func (ra RefsAt) Encode(w io.Writer) (int, error) {
	n, err := EncodeNodeId(w, ra.Remote)
	if err != nil {
		return n, err
	}
	m, err := EncodeObjectId(w, ra.Oid)
	return n + m, err
}

func (ra *RefsAt) Decode(r io.Reader) error {
	remote, err := DecodeNodeId(r)
	if err != nil {
		return err
	}
	oid, err := DecodeObjectId(r)
	if err != nil {
		return err
	}
	ra.Remote = remote
	ra.Oid = oid
	return nil
}

// RefsAnnouncement broadcasts a repository's updated signed-refs tips
// for one or more remotes.
type RefsAnnouncement struct {
	Rid       nodeid.RepoId
	Refs      []RefsAt
	Timestamp nodeid.Timestamp
}

func (ra RefsAnnouncement) Encode(w io.Writer) (int, error) {
	n, err := EncodeRepoId(w, ra.Rid)
	if err != nil {
		return n, err
	}
	m, err := EncodeSlice(w, ra.Refs, RefRemoteLimit)
	n += m
	if err != nil {
		return n, err
	}
	m, err = PutUint64(w, uint64(ra.Timestamp))
	return n + m, err
}

func (ra *RefsAnnouncement) Decode(r io.Reader) error {
	rid, err := DecodeRepoId(r)
	if err != nil {
		return err
	}
	refs, err := DecodeSlice(r, RefRemoteLimit, func() *RefsAt { return &RefsAt{} })
	if err != nil {
		return err
	}
	ts, err := ReadUint64(r)
	if err != nil {
		return err
	}
	ra.Rid = rid
	ra.Refs = make([]RefsAt, len(refs))
	for i, rf := range refs {
		ra.Refs[i] = *rf
	}
	ra.Timestamp = nodeid.Timestamp(ts)
	return nil
}

// AnnouncementKind tags the variant carried by an AnnouncementMessage.
type AnnouncementKind uint8

const (
	AnnouncementKindNode      AnnouncementKind = 1
	AnnouncementKindInventory AnnouncementKind = 2
	AnnouncementKindRefs      AnnouncementKind = 3
)

// AnnouncementMessage is the signed payload of an Announcement: exactly
// one of Node, Inventory, or Refs is populated, selected by Kind.
type AnnouncementMessage struct {
	Kind      AnnouncementKind
	Node      *NodeAnnouncement
	Inventory *InventoryAnnouncement
	Refs      *RefsAnnouncement
}

// Timestamp returns the timestamp of whichever variant is populated.
func (m AnnouncementMessage) Timestamp() nodeid.Timestamp {
	switch m.Kind {
	case AnnouncementKindNode:
		return m.Node.Timestamp
	case AnnouncementKindInventory:
		return m.Inventory.Timestamp
	case AnnouncementKindRefs:
		return m.Refs.Timestamp
	default:
		return 0
	}
}

// VariantEq reports whether two messages carry the same announcement
// kind, used to enforce "strictly newer per (node, variant)" ordering
// without comparing payload contents.
func (m AnnouncementMessage) VariantEq(other AnnouncementMessage) bool {
	return m.Kind == other.Kind
}

func (m AnnouncementMessage) Encode(w io.Writer) (int, error) {
	n, err := PutUint8(w, uint8(m.Kind))
	if err != nil {
		return n, err
	}
	var body int
	switch m.Kind {
	case AnnouncementKindNode:
		body, err = m.Node.Encode(w)
	case AnnouncementKindInventory:
		body, err = m.Inventory.Encode(w)
	case AnnouncementKindRefs:
		body, err = m.Refs.Encode(w)
	default:
		return n, fmt.Errorf("wire: %w: announcement kind %d", ErrUnknownMsgType, m.Kind)
	}
	return n + body, err
}

func (m *AnnouncementMessage) Decode(r io.Reader) error {
	kind, err := ReadUint8(r)
	if err != nil {
		return err
	}
	m.Kind = AnnouncementKind(kind)
	switch m.Kind {
	case AnnouncementKindNode:
		m.Node = &NodeAnnouncement{}
		return m.Node.Decode(r)
	case AnnouncementKindInventory:
		m.Inventory = &InventoryAnnouncement{}
		return m.Inventory.Decode(r)
	case AnnouncementKindRefs:
		m.Refs = &RefsAnnouncement{}
		return m.Refs.Decode(r)
	default:
		return fmt.Errorf("wire: %w: announcement kind %d", ErrUnknownMsgType, m.Kind)
	}
}

// Announcement is a signed, relayable gossip message: a node vouches
// for Message's contents with its own key.
type Announcement struct {
	Node      nodeid.NodeId
	Message   AnnouncementMessage
	Signature nodeid.Signature
}

// SignedBytes returns the canonical encoding that Verify checks the
// signature against: the message alone, not the node id or signature.
func (a Announcement) SignedBytes() []byte {
	var buf sizingBuffer
	_, _ = a.Message.Encode(&buf)
	return buf.bytes
}

// Verify checks that Signature is a valid signature by Node over
// Message's canonical encoding.
func (a Announcement) Verify() bool {
	return a.Node.Verify(a.SignedBytes(), a.Signature)
}

// Timestamp returns the announcement's payload timestamp.
func (a Announcement) Timestamp() nodeid.Timestamp { return a.Message.Timestamp() }

// Matches reports whether this announcement is relevant to a peer
// subscribed with f. Node and Inventory announcements relay
// unconditionally; only Refs announcements are filtered by repository
// id, per spec.md §4.1.
func (a Announcement) Matches(f *filter.Filter) bool {
	switch a.Message.Kind {
	case AnnouncementKindNode, AnnouncementKindInventory:
		return true
	case AnnouncementKindRefs:
		return f.Contains(a.Message.Refs.Rid)
	default:
		return false
	}
}

func (a Announcement) Encode(w io.Writer) (int, error) {
	n, err := EncodeNodeId(w, a.Node)
	if err != nil {
		return n, err
	}
	m, err := a.Message.Encode(w)
	n += m
	if err != nil {
		return n, err
	}
	m, err = EncodeSignature(w, a.Signature)
	return n + m, err
}

func (a *Announcement) Decode(r io.Reader) error {
	node, err := DecodeNodeId(r)
	if err != nil {
		return err
	}
	var msg AnnouncementMessage
	if err := msg.Decode(r); err != nil {
		return err
	}
	sig, err := DecodeSignature(r)
	if err != nil {
		return err
	}
	a.Node = node
	a.Message = msg
	a.Signature = sig
	return nil
}

// InfoKind tags the variant carried by an Info message.
type InfoKind uint8

const (
	InfoKindRefsAlreadySynced InfoKind = 1
)

// RefsAlreadySynced tells a peer that a fetch it requested is a no-op:
// the requester's sigrefs tip is already At.
type RefsAlreadySynced struct {
	Rid nodeid.RepoId
	At  nodeid.Timestamp
}

func (s RefsAlreadySynced) Encode(w io.Writer) (int, error) {
	n, err := EncodeRepoId(w, s.Rid)
	if err != nil {
		return n, err
	}
	m, err := PutUint64(w, uint64(s.At))
	return n + m, err
}

func (s *RefsAlreadySynced) Decode(r io.Reader) error {
	rid, err := DecodeRepoId(r)
	if err != nil {
		return err
	}
	at, err := ReadUint64(r)
	if err != nil {
		return err
	}
	s.Rid = rid
	s.At = nodeid.Timestamp(at)
	return nil
}

// Info carries an out-of-band informational notice; currently the only
// variant is RefsAlreadySynced.
type Info struct {
	Kind              InfoKind
	RefsAlreadySynced *RefsAlreadySynced
}

func (i Info) Encode(w io.Writer) (int, error) {
	n, err := PutUint8(w, uint8(i.Kind))
	if err != nil {
		return n, err
	}
	switch i.Kind {
	case InfoKindRefsAlreadySynced:
		m, err := i.RefsAlreadySynced.Encode(w)
		return n + m, err
	default:
		return n, fmt.Errorf("wire: %w: info kind %d", ErrUnknownMsgType, i.Kind)
	}
}

func (i *Info) Decode(r io.Reader) error {
	kind, err := ReadUint8(r)
	if err != nil {
		return err
	}
	i.Kind = InfoKind(kind)
	switch i.Kind {
	case InfoKindRefsAlreadySynced:
		i.RefsAlreadySynced = &RefsAlreadySynced{}
		return i.RefsAlreadySynced.Decode(r)
	default:
		return fmt.Errorf("wire: %w: info kind %d", ErrUnknownMsgType, i.Kind)
	}
}

// ZeroBytes is a run of zero-valued padding bytes, used by Ping/Pong to
// manufacture a response of a requested size without an amplification
// vector: MaxPingZeroes/MaxPongZeroes cap how much padding either side
// will ever emit, regardless of what was requested.
type ZeroBytes struct {
	Len int
}

const (
	// MaxPingZeroes/MaxPongZeroes bound Ping/Pong padding well under
	// MaxMessageSize, since the two messages otherwise carry only a few
	// bytes of payload and exist purely to measure round-trip latency.
	MaxPingZeroes = 512
	MaxPongZeroes = 512
)

func (z ZeroBytes) Encode(w io.Writer) (int, error) {
	return PutVarBytes(w, make([]byte, z.Len))
}

func (z *ZeroBytes) Decode(r io.Reader) error {
	b, err := ReadVarBytes(r)
	if err != nil {
		return err
	}
	z.Len = len(b)
	return nil
}

// Ping requests a Pong carrying PongLen bytes of zero padding, bounded
// by MaxPongZeroes.
type Ping struct {
	PongLen uint16
	Zeroes  ZeroBytes
}

func (p Ping) Encode(w io.Writer) (int, error) {
	n, err := PutUint16(w, p.PongLen)
	if err != nil {
		return n, err
	}
	m, err := p.Zeroes.Encode(w)
	return n + m, err
}

func (p *Ping) Decode(r io.Reader) error {
	pongLen, err := ReadUint16(r)
	if err != nil {
		return err
	}
	var z ZeroBytes
	if err := z.Decode(r); err != nil {
		return err
	}
	if z.Len > MaxPingZeroes {
		return fmt.Errorf("%w: ping padding %d exceeds %d", ErrBoundExceeded, z.Len, MaxPingZeroes)
	}
	p.PongLen = pongLen
	p.Zeroes = z
	return nil
}

// Pong answers a Ping with up to MaxPongZeroes bytes of padding,
// irrespective of what PongLen requested.
type Pong struct {
	Zeroes ZeroBytes
}

func (p Pong) Encode(w io.Writer) (int, error) {
	return p.Zeroes.Encode(w)
}

func (p *Pong) Decode(r io.Reader) error {
	var z ZeroBytes
	if err := z.Decode(r); err != nil {
		return err
	}
	if z.Len > MaxPongZeroes {
		return fmt.Errorf("%w: pong padding %d exceeds %d", ErrBoundExceeded, z.Len, MaxPongZeroes)
	}
	p.Zeroes = z
	return nil
}

// MessageKind tags the top-level variant of a Message.
type MessageKind uint8

const (
	MessageKindSubscribe    MessageKind = 1
	MessageKindAnnouncement MessageKind = 2
	MessageKindInfo         MessageKind = 3
	MessageKindPing         MessageKind = 4
	MessageKindPong         MessageKind = 5
)

func (k MessageKind) String() string {
	switch k {
	case MessageKindSubscribe:
		return "subscribe"
	case MessageKindAnnouncement:
		return "announcement"
	case MessageKindInfo:
		return "info"
	case MessageKindPing:
		return "ping"
	case MessageKindPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Message is the top-level sum type carried on the gossip/session
// stream: exactly one of the typed fields is populated, selected by
// Kind.
type Message struct {
	Kind         MessageKind
	Subscribe    *Subscribe
	Announcement *Announcement
	Info         *Info
	Ping         *Ping
	Pong         *Pong
}

// Log renders a short, human-readable summary of the message for
// structured log fields.
func (m Message) Log() string {
	switch m.Kind {
	case MessageKindSubscribe:
		return fmt.Sprintf("subscribe(since=%d until=%d)", m.Subscribe.Since, m.Subscribe.Until)
	case MessageKindAnnouncement:
		return fmt.Sprintf("announcement(node=%s kind=%d ts=%d)", m.Announcement.Node, m.Announcement.Message.Kind, m.Announcement.Timestamp())
	case MessageKindInfo:
		return "info"
	case MessageKindPing:
		return fmt.Sprintf("ping(ponglen=%d)", m.Ping.PongLen)
	case MessageKindPong:
		return fmt.Sprintf("pong(len=%d)", m.Pong.Zeroes.Len)
	default:
		return "unknown"
	}
}

func (m Message) Encode(w io.Writer) (int, error) {
	n, err := PutUint8(w, uint8(m.Kind))
	if err != nil {
		return n, err
	}
	var body int
	switch m.Kind {
	case MessageKindSubscribe:
		body, err = m.Subscribe.Encode(w)
	case MessageKindAnnouncement:
		body, err = m.Announcement.Encode(w)
	case MessageKindInfo:
		body, err = m.Info.Encode(w)
	case MessageKindPing:
		body, err = m.Ping.Encode(w)
	case MessageKindPong:
		body, err = m.Pong.Encode(w)
	default:
		return n, fmt.Errorf("wire: %w: %d", ErrUnknownMsgType, m.Kind)
	}
	return n + body, err
}

func (m *Message) Decode(r io.Reader) error {
	kind, err := ReadUint8(r)
	if err != nil {
		return err
	}
	m.Kind = MessageKind(kind)
	switch m.Kind {
	case MessageKindSubscribe:
		m.Subscribe = &Subscribe{}
		return m.Subscribe.Decode(r)
	case MessageKindAnnouncement:
		m.Announcement = &Announcement{}
		return m.Announcement.Decode(r)
	case MessageKindInfo:
		m.Info = &Info{}
		return m.Info.Decode(r)
	case MessageKindPing:
		m.Ping = &Ping{}
		return m.Ping.Decode(r)
	case MessageKindPong:
		m.Pong = &Pong{}
		return m.Pong.Decode(r)
	default:
		return fmt.Errorf("wire: %w: %d", ErrUnknownMsgType, m.Kind)
	}
}
