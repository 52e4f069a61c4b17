package authclient

import "net/http"

// HeaderCSRFToken is the header the gateway's CSRF guard reads.
const HeaderCSRFToken = "x-csrf-token"

// Transport attaches the current CSRF token to mutating requests. The token
// is read from the source at round-trip time, so a request built before a
// refresh still carries the rotated value.
type Transport struct {
	source func() string
	base   http.RoundTripper
}

// NewTransport wraps base with CSRF header injection. A nil base falls back
// to http.DefaultTransport.
func NewTransport(source func() string, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{source: source, base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if mutating(req.Method) {
		if token := t.source(); token != "" {
			// Clone per RoundTripper contract: the original request is
			// not ours to modify.
			req = req.Clone(req.Context())
			req.Header.Set(HeaderCSRFToken, token)
		}
	}
	return t.base.RoundTrip(req)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
