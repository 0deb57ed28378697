package transport

import (
	"fmt"
	"io"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
	"github.com/weavenet/weave/internal/wire"
)

// fetchOp tags one control frame on a /weave/fetch/1.0.0 stream. Each
// frame is a single operation of the staged fetch protocol's one
// round trip per stage (spec.md §4.2). The server answers frames until
// the stream closes; FetchClient sends one frame per stream.
type fetchOp uint8

const (
	opAdvertise fetchOp = iota + 1
	opFetch
	opSigrefs
)

func writeOp(w io.Writer, op fetchOp) error {
	_, err := wire.PutUint8(w, uint8(op))
	return err
}

func readOp(r io.Reader) (fetchOp, error) {
	b, err := wire.ReadUint8(r)
	return fetchOp(b), err
}

func writeStrings(w io.Writer, ss []string) error {
	if _, err := wire.PutUint16(w, uint16(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if _, err := wire.PutString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	n, err := wire.ReadUint16(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeRefs(w io.Writer, refs map[storage.RefName]nodeid.ObjectId) error {
	if _, err := wire.PutUint16(w, uint16(len(refs))); err != nil {
		return err
	}
	for name, oid := range refs {
		if _, err := wire.PutString(w, string(name)); err != nil {
			return err
		}
		if _, err := wire.PutVarBytes(w, oid.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func readRefs(r io.Reader) (map[storage.RefName]nodeid.ObjectId, error) {
	n, err := wire.ReadUint16(r)
	if err != nil {
		return nil, err
	}
	out := make(map[storage.RefName]nodeid.ObjectId, n)
	for i := uint16(0); i < n; i++ {
		name, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		raw, err := wire.ReadVarBytes(r)
		if err != nil {
			return nil, err
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(raw)
		if err != nil {
			return nil, err
		}
		out[storage.RefName(name)] = oid
	}
	return out, nil
}

func writeOids(w io.Writer, oids []nodeid.ObjectId) error {
	if _, err := wire.PutUint16(w, uint16(len(oids))); err != nil {
		return err
	}
	for _, o := range oids {
		if _, err := wire.PutVarBytes(w, o.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func readOids(r io.Reader) ([]nodeid.ObjectId, error) {
	n, err := wire.ReadUint16(r)
	if err != nil {
		return nil, err
	}
	out := make([]nodeid.ObjectId, n)
	for i := range out {
		raw, err := wire.ReadVarBytes(r)
		if err != nil {
			return nil, err
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(raw)
		if err != nil {
			return nil, err
		}
		out[i] = oid
	}
	return out, nil
}

// ErrPackTooLarge is returned on the server side of opFetch by
// boundedWriter when the pack being written exceeds the server's
// maxPack budget; the stream is then reset. The client sees the reset,
// not this error.
var ErrPackTooLarge = fmt.Errorf("transport: fetch pack too large")
