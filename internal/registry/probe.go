package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TestConnection sends GET /v2/ and times the round trip. It always returns
// a report; failures are described by Success, Status and Message. The
// circuit breaker is consulted for bookkeeping only, so a probe can close
// an open circuit.
func (c *HTTPClient) TestConnection(ctx context.Context) ConnectionReport {
	start := time.Now()
	resp, err := c.do(ctx, OpProbe, http.MethodGet, "/v2/", MediaTypeJSON)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		c.recordFailure(ctx, err)
		return ConnectionReport{
			Success:        false,
			ResponseTimeMs: elapsed,
			Message:        err.Error(),
		}
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		c.recordFailure(ctx, nil)
		return ConnectionReport{
			Success:        false,
			ResponseTimeMs: elapsed,
			Status:         resp.StatusCode,
			Message:        fmt.Sprintf("Registry returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	c.recordSuccess()
	return ConnectionReport{
		Success:        true,
		APIVersion:     APIVersion,
		ResponseTimeMs: elapsed,
	}
}
