package wire

import (
	"io"

	"github.com/weavenet/weave/internal/nodeid"
)

// Helpers bridging internal/nodeid's array-backed types onto this
// package's Encoder/Decoder free functions. These live here, rather
// than as methods on the nodeid types themselves, so that nodeid has no
// dependency on the wire codec.

func EncodeNodeId(w io.Writer, id nodeid.NodeId) (int, error) {
	return PutBytes(w, id.Bytes())
}

func DecodeNodeId(r io.Reader) (nodeid.NodeId, error) {
	var buf [nodeid.Size]byte
	if err := ReadBytes(r, buf[:]); err != nil {
		return nodeid.NodeId{}, err
	}
	return nodeid.NodeIdFromBytes(buf[:])
}

func EncodeSignature(w io.Writer, sig nodeid.Signature) (int, error) {
	return PutBytes(w, sig[:])
}

func DecodeSignature(r io.Reader) (nodeid.Signature, error) {
	var buf [nodeid.SignatureSize]byte
	if err := ReadBytes(r, buf[:]); err != nil {
		return nodeid.Signature{}, err
	}
	return nodeid.SignatureFromBytes(buf[:])
}

// EncodeObjectId writes an ObjectId as a Size-length-prefixed multihash,
// the "forward-extensible to SHA-256" wire shape.
func EncodeObjectId(w io.Writer, oid nodeid.ObjectId) (int, error) {
	return PutVarBytes(w, oid.Bytes())
}

func DecodeObjectId(r io.Reader) (nodeid.ObjectId, error) {
	buf, err := ReadVarBytes(r)
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	return nodeid.ObjectIdFromMultihashBytes(buf)
}

func EncodeRepoId(w io.Writer, rid nodeid.RepoId) (int, error) {
	return EncodeObjectId(w, rid.Oid)
}

func DecodeRepoId(r io.Reader) (nodeid.RepoId, error) {
	oid, err := DecodeObjectId(r)
	if err != nil {
		return nodeid.RepoId{}, err
	}
	return nodeid.RepoId{Oid: oid}, nil
}
