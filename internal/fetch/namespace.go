package fetch

import (
	"fmt"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// Namespace returns the ref-name prefix under which a peer's own view
// of a repository's refs live, per spec.md §6 ("refs/namespaces/
// <nodeId>/...").
func Namespace(peer nodeid.NodeId) string {
	return fmt.Sprintf("refs/namespaces/%s/", peer)
}

// NamespacedRef qualifies name under peer's namespace.
func NamespacedRef(peer nodeid.NodeId, name storage.RefName) storage.RefName {
	return storage.RefName(Namespace(peer)) + name
}

const (
	// RadId is the repository-top-level canonical identity ref.
	RadId storage.RefName = "refs/rad/id"
	// RadSigrefs is a remote's own signed-refs ref within its namespace.
	RadSigrefs storage.RefName = "refs/rad/sigrefs"
)
