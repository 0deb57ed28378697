package service

import "errors"

// Sentinel error kinds, one per row of spec.md §7's error-handling
// table. Callers (tests, the daemon API) distinguish dispositions with
// errors.Is rather than string matching, following the teacher's
// internal/daemon/errors.go convention of small sentinel declarations.
var (
	// ErrParse covers malformed messages, wrong magic, or oversize
	// fields: disposition is disconnect with Session(misbehavior) and a
	// high penalty.
	ErrParse = errors.New("service: parse error")

	// ErrSignature covers an announcement or sigrefs signature that
	// fails to verify: disposition is drop the message, or roll back
	// the fetch, plus a high penalty.
	ErrSignature = errors.New("service: signature verification failed")

	// ErrTimestamp covers clock skew beyond delta or a timestamp
	// regression: disposition is drop the message plus a medium
	// penalty.
	ErrTimestamp = errors.New("service: timestamp out of bounds")

	// ErrLayout covers a fetch stage missing a required advertisement:
	// disposition is fail the fetch plus a medium penalty.
	ErrLayout = errors.New("service: required refs missing")

	// ErrQuorum covers NoCandidates/Diverging from canonicalisation:
	// surfaced as a repository-state error, no peer penalty.
	ErrQuorum = errors.New("service: quorum not reached")

	// ErrIO covers transport resets, disk errors, or child-process
	// errors: retried with backoff if transient, otherwise propagated.
	ErrIO = errors.New("service: io error")

	// ErrCapacity covers rate-limit or fetch-pack-size violations:
	// disposition is disconnect plus a medium penalty.
	ErrCapacity = errors.New("service: capacity exceeded")

	// ErrPolicy covers a blocked peer or an unseeded repository:
	// disposition is silently drop.
	ErrPolicy = errors.New("service: policy violation")
)

// Severity classifies a disconnect's penalty weight, per spec.md
// §4.1's "Penalties: low=0, medium=1, high=8 (saturating to 255)".
type Severity uint8

const (
	SeverityLow    Severity = 0
	SeverityMedium Severity = 1
	SeverityHigh   Severity = 8
)
