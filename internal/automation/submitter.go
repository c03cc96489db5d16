package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ziadkadry99/automind/internal/registry"
)

// Submitter hands a spec to the runtime rule engine. A spec the runtime
// refuses yields a *RuntimeRejection.
type Submitter interface {
	Submit(ctx context.Context, spec *Spec) error
}

// HASubmitter stores automations through the Home Assistant config API.
type HASubmitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHASubmitter creates a submitter for the instance at baseURL.
func NewHASubmitter(baseURL, token string) *HASubmitter {
	return &HASubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit creates or replaces the automation with the spec's id.
func (s *HASubmitter) Submit(ctx context.Context, spec *Spec) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding automation %s: %w", spec.ID, err)
	}
	endpoint := fmt.Sprintf("%s/api/config/automation/config/%s", s.baseURL, url.PathEscape(spec.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating automation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: submitting automation: %v", registry.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return &RuntimeRejection{Status: resp.StatusCode, Message: rejectionMessage(resp.Body)}
	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", registry.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("submitting automation %s: status %d: %s", spec.ID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func rejectionMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
