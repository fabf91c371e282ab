package registry

import (
	"encoding/base64"
	"net/http"
)

// EncodeBasicAuth returns base64("username:password").
func EncodeBasicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// applyAuth attaches Basic credentials when both fields are set. A
// half-configured descriptor sends anonymous requests.
func applyAuth(req *http.Request, d Descriptor) {
	if !d.HasCredentials() {
		return
	}
	req.Header.Set("Authorization", "Basic "+EncodeBasicAuth(d.Username, d.Password))
}
