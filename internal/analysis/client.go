// Package analysis calls the external inference engine that scores a stroke
// video. The engine is opaque: one request in, one outcome or error out.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dharsanguruparan/racketdrop/internal/model"
)

// Sentinel errors for engine failures.
var (
	ErrTimeout         = errors.New("analysis engine timeout")
	ErrUnavailable     = errors.New("analysis engine unavailable")
	ErrEngine          = errors.New("analysis engine error")
	ErrInvalidResponse = errors.New("analysis engine returned invalid response")
)

const maxResponseBytes = 1 << 20

// Client is the interface the worker uses to analyse an item.
type Client interface {
	Analyze(ctx context.Context, req Request) (Outcome, error)
}

// Request is everything the engine needs, taken from the item at dequeue time.
type Request struct {
	MediaRef          string                  `json:"mediaReference"`
	Category          string                  `json:"category"`
	SubClassification model.SubClassification `json:"subClassification"`
	Orientation       model.Orientation       `json:"orientation"`
	ViewAngle         model.ViewAngle         `json:"viewAngle,omitempty"`
}

// RequestFor builds the engine request from an item.
func RequestFor(item *model.Item) Request {
	return Request{
		MediaRef:          item.MediaRef,
		Category:          item.Category,
		SubClassification: item.SubClassification,
		Orientation:       item.Orientation,
		ViewAngle:         item.ViewAngle,
	}
}

// Outcome is a successful engine response.
type Outcome struct {
	Summary        string  `json:"summary"`
	Details        string  `json:"details"`
	AttributedTo   string  `json:"attributedTo"`
	FallbackReason *string `json:"fallbackReason,omitempty"`
}

// Result converts the outcome into the stored record for itemID.
func (o Outcome) Result(itemID string) *model.Result {
	return &model.Result{
		ItemID:         itemID,
		Summary:        o.Summary,
		Details:        o.Details,
		AttributedTo:   o.AttributedTo,
		FallbackReason: o.FallbackReason,
	}
}

// HTTPClient implements Client with a single JSON POST per call.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient creates an engine client. timeout bounds each call end to end.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Analyze posts the request once. There are no retries here; the queue
// decides whether a failed job runs again.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Outcome{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Outcome{}, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out Outcome
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if isTimeout(err) {
			return Outcome{}, classifyError(err)
		}
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Summary == "" {
		return Outcome{}, fmt.Errorf("%w: missing summary", ErrInvalidResponse)
	}
	if out.AttributedTo == "" && out.FallbackReason == nil {
		out.AttributedTo = model.AttributionPrimary
	}
	return out, nil
}

func classifyError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Client = (*HTTPClient)(nil)
