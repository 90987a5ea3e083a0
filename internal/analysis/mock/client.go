// Package mock provides scripted analysis clients for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dharsanguruparan/racketdrop/internal/analysis"
	"github.com/dharsanguruparan/racketdrop/internal/model"
)

// Client satisfies analysis.Client and records every request it sees.
type Client struct {
	AnalyzeFunc func(ctx context.Context, req analysis.Request) (analysis.Outcome, error)

	mu       sync.Mutex
	requests []analysis.Request
}

func (c *Client) Analyze(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.AnalyzeFunc != nil {
		return c.AnalyzeFunc(ctx, req)
	}
	return analysis.Outcome{}, nil
}

// Requests returns a copy of the requests received so far.
func (c *Client) Requests() []analysis.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]analysis.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls reports how many times Analyze ran.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// NewClient returns a Client answering every request with a primary-engine
// outcome.
func NewClient() *Client {
	return &Client{
		AnalyzeFunc: func(_ context.Context, req analysis.Request) (analysis.Outcome, error) {
			return analysis.Outcome{
				Summary:      "Mock " + string(req.SubClassification) + " analysis",
				Details:      "Contact point and follow-through within expected range",
				AttributedTo: model.AttributionPrimary,
			}, nil
		},
	}
}

// NewFallbackClient returns a Client whose outcomes come from a fallback path.
func NewFallbackClient(tag, reason string) *Client {
	return &Client{
		AnalyzeFunc: func(_ context.Context, _ analysis.Request) (analysis.Outcome, error) {
			r := reason
			return analysis.Outcome{
				Summary:        "Heuristic analysis",
				Details:        "Generated without the primary engine",
				AttributedTo:   tag,
				FallbackReason: &r,
			}, nil
		},
	}
}

// NewFailingClient returns a Client that always returns err.
func NewFailingClient(err error) *Client {
	return &Client{
		AnalyzeFunc: func(_ context.Context, _ analysis.Request) (analysis.Outcome, error) {
			return analysis.Outcome{}, err
		},
	}
}

// NewTimeoutClient returns a Client that blocks until ctx is done.
func NewTimeoutClient() *Client {
	return &Client{
		AnalyzeFunc: func(ctx context.Context, _ analysis.Request) (analysis.Outcome, error) {
			<-ctx.Done()
			return analysis.Outcome{}, analysis.ErrTimeout
		},
	}
}

var _ analysis.Client = (*Client)(nil)
