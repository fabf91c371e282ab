package registry

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Client is the registry API surface used by the aggregator and the
// command/API layers. *HTTPClient implements it.
type Client interface {
	// ListRepositories returns every repository name in the catalog.
	// Failures are *UnreachableError and abort any caller that depends on them.
	ListRepositories(ctx context.Context) ([]string, error)

	// ListTags returns the tags of one repository in registry order.
	// Failures are *RepoFetchError.
	ListTags(ctx context.Context, repository string) ([]string, error)

	// GetManifest returns the manifest for a repository and tag or digest.
	// Failures are *RepoFetchError.
	GetManifest(ctx context.Context, repository, reference string) (*Manifest, error)

	// GetBlob returns a small blob such as an image configuration by digest.
	// Failures are *RepoFetchError.
	GetBlob(ctx context.Context, repository, reference string) ([]byte, error)

	// DeleteTag resolves the tag's digest and deletes the manifest by digest.
	DeleteTag(ctx context.Context, repository, tag string) (digest.Digest, error)

	// TestConnection probes the API root. It never returns an error; the
	// outcome is carried by the report.
	TestConnection(ctx context.Context) ConnectionReport
}

// Layer is one entry of a manifest's layer list. A missing size decodes as 0.
type Layer struct {
	MediaType string `json:"mediaType,omitempty"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// ConfigRef points at the image configuration blob.
type ConfigRef struct {
	MediaType string `json:"mediaType,omitempty"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size,omitempty"`
}

// Manifest is the subset of an image manifest used for summaries.
type Manifest struct {
	SchemaVersion int        `json:"schemaVersion,omitempty"`
	MediaType     string     `json:"mediaType,omitempty"`
	Config        *ConfigRef `json:"config,omitempty"`
	Layers        []Layer    `json:"layers"`
	Created       string     `json:"created,omitempty"`

	// Digest is the Docker-Content-Digest header value, if the registry sent one.
	Digest string `json:"-"`
	// Raw is the manifest body as received.
	Raw []byte `json:"-"`
}

// TotalSize sums the layer sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// ConnectionReport is the result of a connection test.
type ConnectionReport struct {
	Success        bool   `json:"success"`
	APIVersion     string `json:"apiVersion,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Status         int    `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}
