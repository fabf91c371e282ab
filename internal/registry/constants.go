package registry

import "time"

const (
	// DefaultHTTPTimeout bounds every single request to a registry.
	DefaultHTTPTimeout = 5 * time.Second

	// DefaultPort is used when a descriptor does not name one.
	DefaultPort = 5000

	// APIVersion is reported by a successful connection test.
	APIVersion = "v2"
)

// Media types sent in Accept headers.
const (
	MediaTypeJSON       = "application/json"
	MediaTypeManifestV2 = "application/vnd.docker.distribution.manifest.v2+json"
)

// HeaderContentDigest carries the registry-computed manifest digest.
const HeaderContentDigest = "Docker-Content-Digest"

// Operation names used in errors, logs and metrics.
const (
	OpCatalog       = "catalog"
	OpTags          = "tags"
	OpManifest      = "manifest"
	OpBlob          = "blob"
	OpResolveDigest = "resolve_digest"
	OpDelete        = "delete"
	OpProbe         = "probe"
)
