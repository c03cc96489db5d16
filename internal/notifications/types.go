package notifications

import (
	"time"

	"github.com/ziadkadry99/automind/internal/synergy"
)

// NotificationType categorises the event that triggered the notification.
type NotificationType string

const (
	TypeNewSuggestions NotificationType = "new_suggestions"
)

// Notification is the JSON body posted to webhook subscribers.
type Notification struct {
	ID            string                `json:"id"`
	Type          NotificationType      `json:"type"`
	Title         string                `json:"title"`
	Message       string                `json:"message"`
	RunID         string                `json:"run_id"`
	Opportunities []synergy.Opportunity `json:"opportunities"`
	CreatedAt     time.Time             `json:"created_at"`
}
