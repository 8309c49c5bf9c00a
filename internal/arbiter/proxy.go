package arbiter

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Transport is an http.RoundTripper that routes every request through the arbiter.
type Transport struct {
	Arbiter *Arbiter
}

// RoundTrip implements http.RoundTripper.
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Arbiter.Fetch(req.Context(), req)
}

// NewProxy returns a handler that forwards requests to upstream through the arbiter.
func NewProxy(a *Arbiter, upstream *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: Transport{Arbiter: a},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, ErrNetwork) {
				a.logger.Warn("upstream unreachable", "url", r.URL.String(), "err", err)
			} else {
				a.logger.Error("proxy error", "url", r.URL.String(), "err", err)
			}
			http.Error(w, http.StatusText(status), status)
		},
	}
}
