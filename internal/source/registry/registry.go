// Package registry turns configured source specs into source crawlers.
package registry

import (
	"fmt"
	"net/http"
	"os"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source/bsky"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source/rss"
)

// Deps are shared by every built crawler.
type Deps struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	// UserAgent overrides the User-Agent header on every source request.
	UserAgent string
}

// Build constructs one crawler per spec, preserving configuration order.
func Build(specs []crawler.SourceSpec, deps Deps) ([]*source.Crawler, error) {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New()
	}
	client := withUserAgent(deps.HTTPClient, deps.UserAgent)
	seen := make(map[string]struct{}, len(specs))
	out := make([]*source.Crawler, 0, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("sources[%d]: id is required", i)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate id %q", i, spec.ID)
		}
		seen[spec.ID] = struct{}{}

		adapter, err := newAdapter(spec, client)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, spec.ID, err)
		}
		deps.Limiter.Register(spec.ID, ratelimit.Config{RPS: spec.RequestsPerSecond, Burst: spec.Burst})
		out = append(out, source.New(spec.ID, adapter, source.Options{
			MaxCount: spec.MaxCount,
			PageSize: spec.PageSize,
			MaxPages: spec.MaxPages,
			Retry:    crawler.NewExponentialRetryPolicy(spec.PageRetries),
			Limiter:  deps.Limiter,
		}))
	}
	return out, nil
}

func newAdapter(spec crawler.SourceSpec, client *http.Client) (source.Adapter, error) {
	switch spec.Type {
	case crawler.SourceKindBsky:
		if spec.Bsky == nil {
			return nil, fmt.Errorf("bsky block is required")
		}
		cfg := *spec.Bsky
		cfg.Identifier = os.ExpandEnv(cfg.Identifier)
		cfg.Password = os.ExpandEnv(cfg.Password)
		return bsky.New(cfg, client)
	case crawler.SourceKindRSS:
		if spec.RSS == nil {
			return nil, fmt.Errorf("rss block is required")
		}
		return rss.New(*spec.RSS, client)
	default:
		return nil, fmt.Errorf("unknown source type %q", spec.Type)
	}
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

func withUserAgent(client *http.Client, agent string) *http.Client {
	if agent == "" {
		return client
	}
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = userAgentTransport{base: base, agent: agent}
	return &wrapped
}
