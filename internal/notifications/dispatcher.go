// Package notifications delivers detection results to webhook subscribers,
// for example a Home Assistant webhook automation that raises a persistent
// notification.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/logging"
	"github.com/ziadkadry99/automind/internal/synergy"
)

// Dispatcher delivers notifications to webhook subscribers.
type Dispatcher struct {
	webhooks      []string
	minConfidence float64
	client        *http.Client
	logger        *zap.Logger
	now           func() time.Time
}

// NewDispatcher creates a Dispatcher posting to webhooks. Opportunities below
// minConfidence are not announced.
func NewDispatcher(webhooks []string, minConfidence float64, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		webhooks:      webhooks,
		minConfidence: minConfidence,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// NewOpportunities announces opportunities a detection run found that the
// previous run did not. It is a no-op when none pass the confidence filter.
func (d *Dispatcher) NewOpportunities(ctx context.Context, runID string, ops []synergy.Opportunity) error {
	ops = synergy.FilterByConfidence(ops, d.minConfidence)
	if len(ops) == 0 {
		return nil
	}
	title := "1 new automation suggestion"
	if len(ops) > 1 {
		title = fmt.Sprintf("%d new automation suggestions", len(ops))
	}
	return d.Dispatch(ctx, Notification{
		ID:            uuid.New().String(),
		Type:          TypeNewSuggestions,
		Title:         title,
		Message:       describe(ops[0]),
		RunID:         runID,
		Opportunities: ops,
		CreatedAt:     d.now().UTC(),
	})
}

// Dispatch sends n to every webhook. Every subscriber is attempted; the
// returned error joins the failed deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	var errs []error
	for _, url := range d.webhooks {
		if err := d.SendWebhook(ctx, url, payload); err != nil {
			d.logger.Warn("webhook delivery failed", zap.String("url", url), zap.String("notification_id", n.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		d.logger.Debug("webhook delivered", zap.String("url", url), zap.String("notification_id", n.ID))
	}
	return errors.Join(errs...)
}

// SendWebhook POSTs payload to the given URL.
func (d *Dispatcher) SendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// describe renders the top opportunity as one sentence.
func describe(op synergy.Opportunity) string {
	var sb strings.Builder
	if op.Trigger != nil {
		fmt.Fprintf(&sb, "When %s: ", op.Trigger)
	}
	for i, a := range op.Actions {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", a.Service, a.EntityID)
	}
	fmt.Fprintf(&sb, " (confidence %.2f)", op.Confidence)
	return sb.String()
}
