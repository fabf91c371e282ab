package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// maxManifestSize bounds a manifest body read into memory.
const maxManifestSize = 4 << 20

// GetManifest fetches the v2 manifest for reference, which may be a tag or
// a digest.
func (c *HTTPClient) GetManifest(ctx context.Context, repository, reference string) (*Manifest, error) {
	resp, err := c.do(ctx, OpManifest, http.MethodGet, manifestPath(repository, reference), MediaTypeManifestV2)
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Reference: reference, Op: OpManifest, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RepoFetchError{
			Repository: repository,
			Reference:  reference,
			Op:         OpManifest,
			Status:     resp.StatusCode,
			Message:    statusMessage(resp),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Reference: reference, Op: OpManifest, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &RepoFetchError{
			Repository: repository,
			Reference:  reference,
			Op:         OpManifest,
			Message:    "invalid manifest",
			Err:        err,
		}
	}
	if m.Layers == nil {
		m.Layers = []Layer{}
	}
	m.Digest = resp.Header.Get(HeaderContentDigest)
	m.Raw = raw
	return &m, nil
}
