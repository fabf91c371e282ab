package registry

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Each typed error below matches exactly one.
var (
	ErrRegistryUnreachable = errors.New("registry unreachable")
	ErrRepoFetch           = errors.New("repository fetch failed")
	ErrDigestUnavailable   = errors.New("manifest digest unavailable")
	ErrDeleteFailed        = errors.New("manifest delete failed")
	ErrInvalidDescriptor   = errors.New("invalid registry descriptor")
	ErrInvalidReference    = errors.New("invalid repository reference")
)

// UnreachableError is returned when the catalog cannot be read. It fails the
// whole aggregation.
type UnreachableError struct {
	Op      string
	URL     string
	Status  int // 0 for transport failures
	Message string
	Err     error
}

func (e *UnreachableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: registry returned %d: %s", e.Op, e.URL, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Message)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrRegistryUnreachable }

// RepoFetchError is a tag or manifest failure scoped to one repository.
type RepoFetchError struct {
	Repository string
	Reference  string
	Op         string
	Status     int
	Message    string
	Err        error
}

func (e *RepoFetchError) Error() string {
	target := e.Repository
	if e.Reference != "" {
		target += ":" + e.Reference
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: registry returned %d: %s", e.Op, target, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, target, e.Message)
}

func (e *RepoFetchError) Unwrap() error { return e.Err }

func (e *RepoFetchError) Is(target error) bool { return target == ErrRepoFetch }

// DigestUnavailableError means deletion could not learn the manifest digest,
// so no DELETE was sent.
type DigestUnavailableError struct {
	Repository string
	Tag        string
	Status     int
	Err        error
}

func (e *DigestUnavailableError) Error() string {
	msg := fmt.Sprintf("could not obtain manifest digest for %s:%s", e.Repository, e.Tag)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DigestUnavailableError) Unwrap() error { return e.Err }

func (e *DigestUnavailableError) Is(target error) bool { return target == ErrDigestUnavailable }

// DeleteFailedError is a failed DELETE of a manifest by digest.
type DeleteFailedError struct {
	Repository string
	Digest     string
	Status     int // 0 for transport failures
	Err        error
}

func (e *DeleteFailedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to delete %s@%s: registry returned %d", e.Repository, e.Digest, e.Status)
	}
	return fmt.Sprintf("failed to delete %s@%s: %v", e.Repository, e.Digest, e.Err)
}

func (e *DeleteFailedError) Unwrap() error { return e.Err }

func (e *DeleteFailedError) Is(target error) bool { return target == ErrDeleteFailed }
