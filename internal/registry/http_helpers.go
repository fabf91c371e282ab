package registry

import (
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// statusMessage returns a short human message for a non-2xx response,
// preferring the body and falling back to the standard status text.
func statusMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// drain discards the rest of a body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// resolveURL joins an API path onto the registry base URL. Repository names
// keep their slashes.
func resolveURL(base *url.URL, p string, query url.Values) string {
	u := *base
	u.Path = path.Join("/", base.Path, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func tagsPath(repository string) string {
	return "/v2/" + repository + "/tags/list"
}

func manifestPath(repository, reference string) string {
	return "/v2/" + repository + "/manifests/" + reference
}

func blobPath(repository string, dgst digest.Digest) string {
	return "/v2/" + repository + "/blobs/" + dgst.String()
}
