package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weavenet/weave/internal/fetch"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
	"github.com/weavenet/weave/internal/wire"
)

// FetchClient implements fetch.Remote against one connected peer over
// FetchProtocol: every call opens its own stream, since spec.md §4.2
// scopes one round trip per stage rather than multiplexing stages onto
// a single long-lived stream.
type FetchClient struct {
	Host host.Host
	Peer peer.ID
	Repo nodeid.RepoId
	// Into receives incoming packfiles during Fetch.
	Into *storage.GitRepository
}

func (c *FetchClient) open(ctx context.Context) (network.Stream, error) {
	s, err := c.Host.NewStream(ctx, c.Peer, FetchProtocol)
	if err != nil {
		return nil, fmt.Errorf("transport: opening fetch stream to %s: %w", c.Peer, err)
	}
	if _, err := wire.PutVarBytes(s, c.Repo.Oid.Bytes()); err != nil {
		s.Reset()
		return nil, err
	}
	return s, nil
}

// Advertise satisfies fetch.Remote.
func (c *FetchClient) Advertise(ctx context.Context, prefixes []string) (map[storage.RefName]nodeid.ObjectId, error) {
	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := writeOp(s, opAdvertise); err != nil {
		return nil, err
	}
	if err := writeStrings(s, prefixes); err != nil {
		return nil, err
	}
	return readRefs(s)
}

// Fetch satisfies fetch.Remote: it streams the remote's packfile
// response directly into c.Into, bounded by limit.
func (c *FetchClient) Fetch(ctx context.Context, wants, haves []nodeid.ObjectId, limit int64) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := writeOp(s, opFetch); err != nil {
		return err
	}
	if err := writeOids(s, wants); err != nil {
		return err
	}
	if err := writeOids(s, haves); err != nil {
		return err
	}
	lr := &io.LimitedReader{R: s, N: limit + 1}
	if err := c.Into.ReadPack(lr, limit); err != nil {
		if lr.N <= 0 {
			return &fetch.SizeLimitError{Limit: limit, Received: limit + 1 - lr.N}
		}
		return err
	}
	return nil
}

// Sigrefs satisfies fetch.Remote.
func (c *FetchClient) Sigrefs(ctx context.Context, namespace nodeid.NodeId, at *nodeid.ObjectId) (storage.Sigrefs, error) {
	s, err := c.open(ctx)
	if err != nil {
		return storage.Sigrefs{}, err
	}
	defer s.Close()

	if err := writeOp(s, opSigrefs); err != nil {
		return storage.Sigrefs{}, err
	}
	if _, err := wire.PutVarBytes(s, namespace.Bytes()); err != nil {
		return storage.Sigrefs{}, err
	}
	if at == nil {
		if _, err := wire.PutUint8(s, 0); err != nil {
			return storage.Sigrefs{}, err
		}
	} else {
		if _, err := wire.PutUint8(s, 1); err != nil {
			return storage.Sigrefs{}, err
		}
		if _, err := wire.PutVarBytes(s, at.Bytes()); err != nil {
			return storage.Sigrefs{}, err
		}
	}

	data, err := wire.ReadVarBytes(s)
	if err != nil {
		return storage.Sigrefs{}, err
	}
	var sr storage.Sigrefs
	if err := sr.Decode(bytes.NewReader(data)); err != nil {
		return storage.Sigrefs{}, fmt.Errorf("transport: decoding sigrefs from %s: %w", c.Peer, err)
	}
	return sr, nil
}
