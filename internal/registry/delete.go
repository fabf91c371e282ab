package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/opencontainers/go-digest"
)

// DeleteTag removes the manifest a tag points at. The digest must come from
// the registry's Docker-Content-Digest header; hashing the body locally is
// not equivalent because registries may normalize the manifest first. No
// DELETE is sent unless that header is present and well formed.
func (c *HTTPClient) DeleteTag(ctx context.Context, repository, tag string) (digest.Digest, error) {
	if err := c.desc.ValidateReference(repository, tag); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	dgst, err := c.resolveDigest(ctx, repository, tag)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, OpDelete, http.MethodDelete, manifestPath(repository, dgst.String()), MediaTypeManifestV2)
	if err != nil {
		return "", &DeleteFailedError{Repository: repository, Digest: dgst.String(), Err: err}
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return "", &DeleteFailedError{
			Repository: repository,
			Digest:     dgst.String(),
			Status:     resp.StatusCode,
			Err:        errors.New(statusMessage(resp)),
		}
	}

	c.logger.InfoContext(ctx, "Deleted %s:%s (%s)", repository, tag, dgst)
	return dgst, nil
}

// resolveDigest is phase one of deletion: GET the manifest with the v2
// Accept header and read the digest header.
func (c *HTTPClient) resolveDigest(ctx context.Context, repository, tag string) (digest.Digest, error) {
	resp, err := c.do(ctx, OpResolveDigest, http.MethodGet, manifestPath(repository, tag), MediaTypeManifestV2)
	if err != nil {
		return "", &DigestUnavailableError{Repository: repository, Tag: tag, Err: err}
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return "", &DigestUnavailableError{
			Repository: repository,
			Tag:        tag,
			Status:     resp.StatusCode,
			Err:        errors.New(statusMessage(resp)),
		}
	}

	header := resp.Header.Get(HeaderContentDigest)
	if header == "" {
		return "", &DigestUnavailableError{Repository: repository, Tag: tag}
	}
	dgst, err := digest.Parse(header)
	if err != nil {
		return "", &DigestUnavailableError{Repository: repository, Tag: tag, Err: err}
	}
	return dgst, nil
}
