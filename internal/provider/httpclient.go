package provider

import (
	"net"
	"net/http"
	"time"
)

// UserAgent is sent on every gateway request that does not set its own.
var UserAgent = "agentcli"

// newGatewayClient builds the pooled client shared by the gateways of one
// Factory. Each gateway talks to a single host, so the per-host pool is small;
// the header timeout matches the overall timeout because the model may think
// for a long time before the first byte.
func newGatewayClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &agentTransport{base: base},
	}
}

// agentTransport stamps the User-Agent header.
type agentTransport struct {
	base http.RoundTripper
}

func (t *agentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(r)
}
