// Package client implements the consumer side of the reveal pipeline: an
// HTTP client for the service's endpoints and the presentation queue that
// serializes reveals one at a time. It is the half that runs inside the
// user-facing application process.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miel-team/nextmatch-reveal/internal/repository"
)

// ErrConflict marks a transition rejected by the server with 409: wrong
// state, wrong owner, or missing reveal. It is terminal; retrying a
// business-logic conflict cannot succeed.
var ErrConflict = errors.New("reveal conflict")

// Reveal is the client-side view of one deliverable reveal. It carries
// the same fields whether it arrived over the live channel or from the
// recovery query.
type Reveal struct {
	ID            uint64               `json:"id"`
	MatchID       uint64               `json:"match_id"`
	VideoSnapshot *string              `json:"video_snapshot,omitempty"`
	CreatedAt     string               `json:"created_at"`
	OtherUser     repository.OtherUser `json:"other_user"`
}

// APIClient talks to the reveal service over HTTP with a Bearer token.
// Failures other than 409 are considered transient; the queue decides
// whether and how to retry.
type APIClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewAPIClient returns a client for the given base URL and access token.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchPending calls GET /v1/reveals/pending and returns the merged
// delivery list.
func (a *APIClient) FetchPending(ctx context.Context) ([]Reveal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/v1/reveals/pending", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pending reveals: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Reveals []Reveal `json:"reveals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode pending reveals: %w", err)
	}
	return body.Reveals, nil
}

// MarkSeen calls POST /v1/reveals/{id}/seen.
func (a *APIClient) MarkSeen(ctx context.Context, revealID uint64) error {
	return a.post(ctx, fmt.Sprintf("/v1/reveals/%d/seen", revealID))
}

// MarkDismissed calls POST /v1/reveals/{id}/dismiss.
func (a *APIClient) MarkDismissed(ctx context.Context, revealID uint64) error {
	return a.post(ctx, fmt.Sprintf("/v1/reveals/%d/dismiss", revealID))
}

func (a *APIClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	default:
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
}
