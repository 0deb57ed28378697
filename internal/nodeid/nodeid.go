// Package nodeid defines the stable cryptographic identities used
// throughout weave: node identities, repository identities, object ids,
// and the signing primitives built on top of them.
package nodeid

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mb "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// Size is the length in bytes of a NodeId (an Ed25519 public key).
const Size = ed25519.PublicKeySize

// SignatureSize is the length in bytes of a detached Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// NodeId is the stable identity of a peer: an Ed25519 public key.
type NodeId [Size]byte

// ErrInvalidLength is returned when decoding a NodeId/ObjectId/Signature
// from bytes of the wrong length.
var ErrInvalidLength = errors.New("nodeid: invalid length")

// NodeIdFromBytes copies b into a NodeId, failing if the length is wrong.
func NodeIdFromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != Size {
		return id, ErrInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw public key bytes.
func (n NodeId) Bytes() []byte { return n[:] }

// String renders the NodeId as a multibase base58btc string (the "z..."
// form used throughout the display and config layers), matching the
// human-readable convention used for content-addressed identifiers in
// the wider libp2p/IPFS ecosystem this node interoperates with.
func (n NodeId) String() string {
	s, err := mb.Encode(mb.Base58BTC, n[:])
	if err != nil {
		// mb.Encode only fails for unsupported bases; Base58BTC is always
		// supported, so this is unreachable in practice.
		return fmt.Sprintf("<invalid:%x>", n[:])
	}
	return s
}

// ParseNodeId parses the multibase string produced by String.
func ParseNodeId(s string) (NodeId, error) {
	var id NodeId
	_, data, err := mb.Decode(s)
	if err != nil {
		return id, fmt.Errorf("nodeid: decode: %w", err)
	}
	return NodeIdFromBytes(data)
}

// MarshalText satisfies encoding.TextMarshaler so a NodeId can appear as
// a JSON string field, e.g. in a repository's identity document.
func (n NodeId) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (n *NodeId) UnmarshalText(text []byte) error {
	id, err := ParseNodeId(string(text))
	if err != nil {
		return err
	}
	*n = id
	return nil
}

// Verify checks a detached signature over msg under this NodeId's key.
func (n NodeId) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(n[:], msg, sig[:])
}

// Signature is a detached Ed25519 signature.
type Signature [SignatureSize]byte

// SignatureFromBytes copies b into a Signature, failing if the length is wrong.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, ErrInvalidLength
	}
	copy(sig[:], b)
	return sig, nil
}

// Signer produces signatures under a stable NodeId.
type Signer interface {
	NodeId() NodeId
	Sign(msg []byte) Signature
}

// memSigner is an in-process Ed25519 signer backed by a private key held
// in memory, used for the node's own identity and in tests.
type memSigner struct {
	pub  NodeId
	priv ed25519.PrivateKey
}

// GenerateSigner creates a new random signing identity.
func GenerateSigner() (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	id, err := NodeIdFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &memSigner{pub: id, priv: priv}, nil
}

// SignerFromSeed deterministically derives a signer from a 32-byte seed.
// Used by tests that need reproducible identities.
func SignerFromSeed(seed [ed25519.SeedSize]byte) Signer {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	id, _ := NodeIdFromBytes(pub)
	return &memSigner{pub: id, priv: priv}
}

func (s *memSigner) NodeId() NodeId { return s.pub }

func (s *memSigner) Sign(msg []byte) Signature {
	raw := ed25519.Sign(s.priv, msg)
	var sig Signature
	copy(sig[:], raw)
	return sig
}

// ObjectId is a Git object id, encoded on the wire as a multihash so the
// format can be extended from SHA-1 to SHA-256 (or beyond) without a wire
// protocol version bump: the multihash already self-describes its
// algorithm and digest length.
type ObjectId struct {
	mh mh.Multihash
}

// ObjectIdFromHex builds an ObjectId from a Git SHA-1 hex object id.
func ObjectIdFromHex(hexOid string) (ObjectId, error) {
	raw, err := hex.DecodeString(hexOid)
	if err != nil {
		return ObjectId{}, fmt.Errorf("nodeid: invalid hex oid: %w", err)
	}
	return NewObjectId(mh.SHA1, raw)
}

// NewObjectId wraps a raw digest of the given multihash code.
func NewObjectId(code uint64, digest []byte) (ObjectId, error) {
	sum, err := mh.Encode(digest, code)
	if err != nil {
		return ObjectId{}, fmt.Errorf("nodeid: encode multihash: %w", err)
	}
	return ObjectId{mh: sum}, nil
}

// ObjectIdFromMultihashBytes decodes a wire-received multihash.
func ObjectIdFromMultihashBytes(b []byte) (ObjectId, error) {
	sum, err := mh.Cast(b)
	if err != nil {
		return ObjectId{}, fmt.Errorf("nodeid: invalid multihash: %w", err)
	}
	return ObjectId{mh: sum}, nil
}

// Bytes returns the raw multihash bytes, ready to be length-prefixed on
// the wire.
func (o ObjectId) Bytes() []byte { return []byte(o.mh) }

// Digest returns the raw hash digest (without the multihash algorithm/length
// prefix), suitable for comparison against a Git object store's native id.
func (o ObjectId) Digest() ([]byte, error) {
	decoded, err := mh.Decode(o.mh)
	if err != nil {
		return nil, err
	}
	return decoded.Digest, nil
}

// String renders the hex digest, matching familiar Git object-id display.
func (o ObjectId) String() string {
	digest, err := o.Digest()
	if err != nil {
		return "<invalid-oid>"
	}
	return fmt.Sprintf("%x", digest)
}

// IsZero reports whether this ObjectId has no digest set.
func (o ObjectId) IsZero() bool { return len(o.mh) == 0 }

// RepoId is a content-addressed repository identity: the object-id of
// the first commit in the repository's identity history.
type RepoId struct {
	Oid ObjectId
}

// String renders the RepoId the same way an ObjectId is rendered.
func (r RepoId) String() string { return r.Oid.String() }

// Cid returns an IPFS content-identifier view of this RepoId, for
// interop with tooling built around content identifiers. The canonical
// identity used throughout weave remains the raw Git object-id; this is
// purely a display/interop convenience.
func (r RepoId) Cid() (cid.Cid, error) {
	digest, err := r.Oid.Digest()
	if err != nil {
		return cid.Undef, err
	}
	sum, err := mh.Encode(digest, mh.SHA1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.GitRaw, sum), nil
}

// Alias is a non-unique, operator-chosen human label for a node,
// broadcast in node announcements.
type Alias string

// MaxAliasLength bounds the wire encoding of an Alias (length-prefixed by
// a single byte, per the wire format in spec.md §6).
const MaxAliasLength = 255

// Validate checks the alias fits the wire format's single-byte length
// prefix.
func (a Alias) Validate() error {
	if len(a) > MaxAliasLength {
		return fmt.Errorf("nodeid: alias exceeds %d bytes", MaxAliasLength)
	}
	return nil
}

// Timestamp is a Unix-epoch second count used for monotonic ordering of
// announcements.
type Timestamp uint64

// TimestampFromUnix converts a Unix second count to a Timestamp,
// clamping negative values to zero.
func TimestampFromUnix(sec int64) Timestamp {
	if sec < 0 {
		return 0
	}
	return Timestamp(sec)
}

// Bytes encodes the timestamp big-endian, matching the wire codec's
// convention for all unsigned integers.
func (t Timestamp) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t))
	return b
}
