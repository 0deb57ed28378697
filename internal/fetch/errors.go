package fetch

import (
	"fmt"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// MissingRequiredRefsError reports a layout violation: a stage's
// pre-validation found that one or more refs it requires were not
// advertised by the remote (spec.md §4.2 "Failure semantics").
type MissingRequiredRefsError struct {
	Stage string
	Refs  []storage.RefName
}

func (e *MissingRequiredRefsError) Error() string {
	return fmt.Sprintf("fetch: stage %s: missing required refs %v", e.Stage, e.Refs)
}

// VerificationError reports a signature or document-invariant failure
// attributable to a specific remote.
type VerificationError struct {
	Remote nodeid.NodeId
	Cause  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("fetch: verification failed for remote %s: %v", e.Remote, e.Cause)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// SizeLimitError reports that a fetch pack exceeded the configured
// fetch_pack_receive budget.
type SizeLimitError struct {
	Limit, Received int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("fetch: pack size %d exceeds limit %d", e.Received, e.Limit)
}

// IoError wraps a transport or disk error encountered mid-fetch.
type IoError struct {
	Cause error
}

func (e *IoError) Error() string { return fmt.Sprintf("fetch: io: %v", e.Cause) }
func (e *IoError) Unwrap() error { return e.Cause }
