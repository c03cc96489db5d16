package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HAHistory reads state history from the Home Assistant REST API.
type HAHistory struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHAHistory creates a history client for the instance at baseURL.
func NewHAHistory(baseURL, token string) *HAHistory {
	return &HAHistory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type haHistoryState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// GetStateHistory fetches one entity's history. The first state returned
// by the API is the state at window start and only seeds From.
func (h *HAHistory) GetStateHistory(ctx context.Context, entityID string, window Window) ([]StateTransition, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", window.End.UTC().Format(time.RFC3339))
	q.Set("significant_changes_only", "0")
	endpoint := fmt.Sprintf("%s/api/history/period/%s?%s&minimal_response&no_attributes",
		h.baseURL, url.PathEscape(window.Start.UTC().Format(time.RFC3339)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("history for %s: status %d: %s", entityID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var series [][]haHistoryState
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decoding history for %s: %w", entityID, err)
	}

	var out []StateTransition
	for _, states := range series {
		if len(states) == 0 {
			continue
		}
		// minimal_response only carries entity_id on the first element.
		if states[0].EntityID != "" && states[0].EntityID != entityID {
			continue
		}
		prev := states[0].State
		for _, s := range states[1:] {
			if s.State == prev {
				continue
			}
			out = append(out, StateTransition{EntityID: entityID, From: prev, To: s.State, At: s.LastChanged.UTC()})
			prev = s.State
		}
	}
	return out, nil
}

// Backfill copies the history of ids within window from src into dst and
// returns the number of new rows.
func Backfill(ctx context.Context, src History, dst *Store, ids []string, window Window) (int, error) {
	total := 0
	for _, id := range ids {
		trs, err := src.GetStateHistory(ctx, id, window)
		if err != nil {
			return total, err
		}
		n, err := dst.Append(ctx, trs, "history")
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
