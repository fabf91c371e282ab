package registry

import (
	"context"
	"encoding/json"
	"net/http"
)

// ListRepositories reads /v2/_catalog. Any failure is an *UnreachableError;
// there is no retry because nothing downstream can proceed without it.
func (c *HTTPClient) ListRepositories(ctx context.Context) ([]string, error) {
	target := c.url("/v2/_catalog")

	if c.breaker != nil && !c.breaker.Allow(c.breakerKey()) {
		return nil, &UnreachableError{Op: OpCatalog, URL: target, Message: "circuit open", Err: ErrCircuitOpen}
	}

	resp, err := c.do(ctx, OpCatalog, http.MethodGet, "/v2/_catalog", MediaTypeJSON)
	if err != nil {
		c.recordFailure(ctx, err)
		return nil, &UnreachableError{Op: OpCatalog, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		c.recordFailure(ctx, nil)
		return nil, &UnreachableError{
			Op:      OpCatalog,
			URL:     target,
			Status:  resp.StatusCode,
			Message: statusMessage(resp),
		}
	}

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.recordFailure(ctx, err)
		return nil, &UnreachableError{Op: OpCatalog, URL: target, Message: "invalid catalog response", Err: err}
	}
	c.recordSuccess()

	if payload.Repositories == nil {
		return []string{}, nil
	}
	return payload.Repositories, nil
}

// ListTags reads /v2/{repository}/tags/list in registry order. A missing or
// null tags field yields an empty list.
func (c *HTTPClient) ListTags(ctx context.Context, repository string) ([]string, error) {
	resp, err := c.do(ctx, OpTags, http.MethodGet, tagsPath(repository), MediaTypeJSON)
	if err != nil {
		return nil, &RepoFetchError{Repository: repository, Op: OpTags, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RepoFetchError{
			Repository: repository,
			Op:         OpTags,
			Status:     resp.StatusCode,
			Message:    statusMessage(resp),
		}
	}

	var payload tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &RepoFetchError{Repository: repository, Op: OpTags, Message: "invalid tag list", Err: err}
	}

	if payload.Tags == nil {
		return []string{}, nil
	}
	return payload.Tags, nil
}
