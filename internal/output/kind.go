package output

import (
	"errors"

	"github.com/chis/regview/internal/registry"
)

// Error kinds reported in Response.Kind.
const (
	KindUnreachable       = "registry_unreachable"
	KindRepoFetch         = "repo_fetch_failed"
	KindDigestUnavailable = "digest_unavailable"
	KindDeleteFailed      = "delete_failed"
	KindInvalid           = "invalid_input"
)

// ErrorKind maps a registry error to its kind, or "" for other errors.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, registry.ErrDigestUnavailable):
		return KindDigestUnavailable
	case errors.Is(err, registry.ErrDeleteFailed):
		return KindDeleteFailed
	case errors.Is(err, registry.ErrRegistryUnreachable):
		return KindUnreachable
	case errors.Is(err, registry.ErrRepoFetch):
		return KindRepoFetch
	case errors.Is(err, registry.ErrInvalidDescriptor), errors.Is(err, registry.ErrInvalidReference):
		return KindInvalid
	default:
		return ""
	}
}
