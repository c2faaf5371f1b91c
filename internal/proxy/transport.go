package proxy

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/cloudauth"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching shared across every channel's outbound client.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// hopByHopHeaders must never be forwarded between client and upstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// authHeaderFor returns the header name and value prefix the vendor's
// static-credential scheme uses, for wrapping into a cloudauth.APIKeyTransport.
func authHeaderFor(vendor routex.Vendor) (header, prefix string) {
	switch vendor {
	case routex.VendorAnthropic:
		return "x-api-key", ""
	case routex.VendorGoogle:
		return "x-goog-api-key", ""
	case routex.VendorAzure:
		return "api-key", ""
	default: // openai, zhipu, custom
		return "Authorization", "Bearer "
	}
}

// gcpCloudPlatformScope is the OAuth2 scope requested for ambient
// (Application Default Credential) access to Google-hosted models, used
// when a google-vendor channel carries no stored API key.
const gcpCloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// authTransport builds the http.RoundTripper that injects ch's outbound
// credential into requests sent over base. The teacher's native-proxy
// handlers injected auth headers per provider by hand; Routex generalizes
// that to the Channel.Vendor tag via cloudauth's decorators: a static
// key/bearer header for the common case (cloudauth.APIKeyTransport), or
// ambient GCP application-default credentials (cloudauth.GCPOAuthTransport)
// when a google channel is configured without a stored key, e.g. Vertex AI
// reached via the host's workload identity.
func authTransport(ctx context.Context, ch *routex.Channel, apiKey string, base http.RoundTripper) (http.RoundTripper, error) {
	if ch.Vendor == routex.VendorGoogle && apiKey == "" {
		return cloudauth.NewGCPOAuthTransport(ctx, base, gcpCloudPlatformScope)
	}
	header, prefix := authHeaderFor(ch.Vendor)
	return &cloudauth.APIKeyTransport{Key: apiKey, HeaderName: header, Prefix: prefix, Base: base}, nil
}

// buildUpstreamRequest constructs the outbound request toward ch for the
// given path and body, copying client headers except hop-by-hop and any
// pre-existing auth headers (which would otherwise leak the caller's own
// credential upstream). The credential itself is injected by the
// authTransport RoundTripper, not set here.
func buildUpstreamRequest(ctx context.Context, ch *routex.Channel, method, path string, header http.Header, body []byte) (*http.Request, error) {
	target := strings.TrimRight(ch.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, target, newBodyReader(body))
	if err != nil {
		return nil, err
	}
	for key, vals := range header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		lower := strings.ToLower(key)
		if lower == "authorization" || lower == "x-api-key" || lower == "x-goog-api-key" || lower == "api-key" || lower == "host" {
			continue
		}
		req.Header[key] = vals
	}
	if ch.Vendor == routex.VendorAnthropic {
		req.Header.Set("anthropic-version", "2023-06-01")
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))
	return req, nil
}
