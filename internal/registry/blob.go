package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
)

// maxBlobSize bounds a blob read into memory. Only configuration blobs are
// fetched, never layers.
const maxBlobSize = 4 << 20

// GetBlob returns the content of a small blob, such as an image
// configuration. A malformed digest fails before any request is sent.
func (c *HTTPClient) GetBlob(ctx context.Context, repository, reference string) ([]byte, error) {
	dgst, err := digest.Parse(reference)
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Reference: reference, Op: OpBlob, Message: "invalid digest", Err: err}
	}

	resp, err := c.do(ctx, OpBlob, http.MethodGet, blobPath(repository, dgst), "")
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Reference: reference, Op: OpBlob, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RepoFetchError{
			Repository: repository,
			Reference:  reference,
			Op:         OpBlob,
			Status:     resp.StatusCode,
			Message:    statusMessage(resp),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize+1))
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Reference: reference, Op: OpBlob, Err: err}
	}
	if len(body) > maxBlobSize {
		return nil, &RepoFetchError{
			Repository: repository,
			Reference:  reference,
			Op:         OpBlob,
			Message:    fmt.Sprintf("blob larger than %d bytes", maxBlobSize),
		}
	}
	return body, nil
}

// ImageConfig is the subset of an image configuration blob used for
// summaries.
type ImageConfig struct {
	Created      string `json:"created,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	OS           string `json:"os,omitempty"`
}

// DecodeImageConfig parses a configuration blob returned by GetBlob.
func DecodeImageConfig(body []byte) (ImageConfig, error) {
	var cfg ImageConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return ImageConfig{}, fmt.Errorf("invalid image config: %w", err)
	}
	return cfg, nil
}
