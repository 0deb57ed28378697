package transport

import (
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
	"github.com/weavenet/weave/internal/wire"
)

// RepoLookup resolves a repository identity to the locally-held
// GitRepository serving it, or ok=false if this node doesn't hold it.
type RepoLookup func(id nodeid.RepoId) (*storage.GitRepository, bool)

// FetchStreamHandler returns the network.StreamHandler registered for
// FetchProtocol: one stream serves one repository for its lifetime,
// dispatching opAdvertise/opFetch/opSigrefs frames until the peer
// closes the stream.
func FetchStreamHandler(lookup RepoLookup, maxPack int64) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()

		ridRaw, err := wire.ReadVarBytes(s)
		if err != nil {
			s.Reset()
			return
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(ridRaw)
		if err != nil {
			s.Reset()
			return
		}
		repo, ok := lookup(nodeid.RepoId{Oid: oid})
		if !ok {
			s.Reset()
			return
		}

		for {
			if err := serveOneFrame(s, repo, maxPack); err != nil {
				if err != io.EOF {
					s.Reset()
				}
				return
			}
		}
	}
}

func serveOneFrame(s network.Stream, repo *storage.GitRepository, maxPack int64) error {
	op, err := readOp(s)
	if err != nil {
		return err
	}
	switch op {
	case opAdvertise:
		return serveAdvertise(s, repo)
	case opFetch:
		return serveFetch(s, repo, maxPack)
	case opSigrefs:
		return serveSigrefs(s, repo)
	default:
		return fmt.Errorf("transport: unknown fetch op %d", op)
	}
}

func serveAdvertise(s network.Stream, repo *storage.GitRepository) error {
	prefixes, err := readStrings(s)
	if err != nil {
		return err
	}
	var all storage.Refs
	if len(prefixes) == 0 {
		all, err = repo.References("")
	} else {
		all = make(storage.Refs)
		for _, p := range prefixes {
			part, err := repo.References(p)
			if err != nil {
				return err
			}
			for k, v := range part {
				all[k] = v
			}
		}
	}
	if err != nil {
		return err
	}
	return writeRefs(s, all)
}

func serveFetch(s network.Stream, repo *storage.GitRepository, maxPack int64) error {
	wants, err := readOids(s)
	if err != nil {
		return err
	}
	haves, err := readOids(s)
	if err != nil {
		return err
	}
	w := io.Writer(s)
	if maxPack > 0 {
		w = &boundedWriter{w: s, limit: maxPack}
	}
	if _, err := repo.WritePack(w, wants, haves); err != nil {
		return err
	}
	return nil
}

// boundedWriter aborts with ErrPackTooLarge as soon as the byte budget
// is exceeded, rather than letting the full (potentially unbounded)
// pack reach the wire before the size is checked.
type boundedWriter struct {
	w     io.Writer
	limit int64
	n     int64
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	b.n += int64(len(p))
	if b.n > b.limit {
		return 0, ErrPackTooLarge
	}
	return b.w.Write(p)
}

// serveSigrefs answers an opSigrefs request with the full signed
// snapshot refs/rad/sigrefs points to for the requested namespace, not
// just its object id: the caller needs Remote/Refs/Timestamp/Signature
// to verify it, and those live in the blob the ref points at rather
// than in the ref itself.
func serveSigrefs(s network.Stream, repo *storage.GitRepository) error {
	nsRaw, err := wire.ReadVarBytes(s)
	if err != nil {
		return err
	}
	namespace, err := nodeid.NodeIdFromBytes(nsRaw)
	if err != nil {
		return err
	}
	// "at" names the commit the caller already has cached; a node only
	// ever holds one live sigrefs snapshot per remote, so it is read to
	// keep the frame shape symmetric with the client but otherwise
	// unused — serving always returns the current snapshot.
	hasAt, err := wire.ReadUint8(s)
	if err != nil {
		return err
	}
	if hasAt != 0 {
		if _, err := wire.ReadVarBytes(s); err != nil {
			return err
		}
	}
	ref := fmt.Sprintf("refs/namespaces/%s/refs/rad/sigrefs", namespace)
	oid, err := repo.Resolve(storage.RefName(ref))
	if err != nil {
		return err
	}
	data, err := repo.ReadBlob(oid)
	if err != nil {
		return err
	}
	_, err = wire.PutVarBytes(s, data)
	return err
}
