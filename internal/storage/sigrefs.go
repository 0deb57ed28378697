package storage

import (
	"fmt"
	"io"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/wire"
)

// Sigrefs is a single remote's signed snapshot of its own references: the
// canonical quorum engine and the fetch protocol both operate over these
// rather than over a repository's live refs directly, so that a remote's
// view of its own history can be authenticated independently of whoever
// happened to relay it.
type Sigrefs struct {
	Remote    nodeid.NodeId
	Refs      Refs
	Timestamp nodeid.Timestamp
	Signature nodeid.Signature
}

// signedBytes returns the deterministic byte sequence a Sigrefs'
// Signature is computed over: the remote id, the timestamp, and every
// ref in the set sorted by name, each written as a length-prefixed name
// and a length-prefixed object id. Sorting is what makes two equal ref
// sets sign identically regardless of map iteration order.
func signedBytes(remote nodeid.NodeId, refs Refs, ts nodeid.Timestamp) []byte {
	var buf sizingSlice
	buf.write(remote[:])
	tsb := ts.Bytes()
	buf.write(tsb[:])

	names := refs.SortedNames()
	_, _ = wire.PutUint16(&buf, uint16(len(names)))
	for _, name := range names {
		_, _ = wire.PutString(&buf, string(name))
		_, _ = wire.PutVarBytes(&buf, refs[name].Bytes())
	}
	return buf.bytes
}

type sizingSlice struct{ bytes []byte }

func (s *sizingSlice) Write(p []byte) (int, error) {
	s.bytes = append(s.bytes, p...)
	return len(p), nil
}

func (s *sizingSlice) write(p []byte) { s.bytes = append(s.bytes, p...) }

// Sign produces a Sigrefs for the given ref snapshot, signed by signer,
// stamped with ts.
func Sign(signer nodeid.Signer, refs Refs, ts nodeid.Timestamp) Sigrefs {
	id := signer.NodeId()
	msg := signedBytes(id, refs, ts)
	return Sigrefs{
		Remote:    id,
		Refs:      refs,
		Timestamp: ts,
		Signature: signer.Sign(msg),
	}
}

// Verify reports whether the signature attached to s actually covers its
// Remote/Refs/Timestamp fields.
func (s Sigrefs) Verify() bool {
	msg := signedBytes(s.Remote, s.Refs, s.Timestamp)
	return s.Remote.Verify(msg, s.Signature)
}

// Encode serializes s as the content of the blob its owner's
// refs/rad/sigrefs points to: remote id, timestamp, signature, then
// the same sorted ref listing Sign/Verify compute over. This is the
// only place a Sigrefs' Signature is ever written out alongside the
// data it covers, so a peer receiving one over the fetch protocol can
// verify it without any other context.
func (s Sigrefs) Encode(w io.Writer) (int, error) {
	var buf sizingSlice
	buf.write(s.Remote[:])
	_, _ = wire.PutUint64(&buf, uint64(s.Timestamp))
	buf.write(s.Signature[:])

	names := s.Refs.SortedNames()
	_, _ = wire.PutUint16(&buf, uint16(len(names)))
	for _, name := range names {
		_, _ = wire.PutString(&buf, string(name))
		_, _ = wire.PutVarBytes(&buf, s.Refs[name].Bytes())
	}
	return w.Write(buf.bytes)
}

// Decode parses the bytes Encode produced. It does not itself verify
// the signature; callers must call Verify on the result.
func (s *Sigrefs) Decode(r io.Reader) error {
	var remote [nodeid.Size]byte
	if err := wire.ReadBytes(r, remote[:]); err != nil {
		return err
	}
	id, err := nodeid.NodeIdFromBytes(remote[:])
	if err != nil {
		return err
	}

	ts, err := wire.ReadUint64(r)
	if err != nil {
		return err
	}

	var sigb [nodeid.SignatureSize]byte
	if err := wire.ReadBytes(r, sigb[:]); err != nil {
		return err
	}
	sig, err := nodeid.SignatureFromBytes(sigb[:])
	if err != nil {
		return err
	}

	n, err := wire.ReadUint16(r)
	if err != nil {
		return err
	}
	refs := make(Refs, n)
	for i := uint16(0); i < n; i++ {
		name, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		raw, err := wire.ReadVarBytes(r)
		if err != nil {
			return err
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(raw)
		if err != nil {
			return err
		}
		refs[RefName(name)] = oid
	}

	s.Remote = id
	s.Timestamp = nodeid.Timestamp(ts)
	s.Signature = sig
	s.Refs = refs
	return nil
}

// ErrNotFastForward is returned by IsFastForward's callers when a
// proposed sigrefs update would move some ref backwards relative to the
// last accepted sigrefs for that remote.
var ErrNotFastForward = fmt.Errorf("storage: sigrefs update is not a fast-forward")

// IsFastForward reports whether next is a legal successor to prev for
// the same remote: every ref present in both must have next's value be
// equal to, or a descendant of, prev's value. A ref absent from next
// that was present in prev is permitted (refs may be deleted); a ref
// newly added in next is always permitted.
func IsFastForward(repo ReadRepository, prev, next Refs) (bool, error) {
	for name, oldOid := range prev {
		newOid, ok := next[name]
		if !ok {
			continue
		}
		if oldOid == newOid {
			continue
		}
		ok, err := repo.IsAncestor(oldOid, newOid)
		if err != nil {
			return false, fmt.Errorf("storage: checking fast-forward of %s: %w", name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
