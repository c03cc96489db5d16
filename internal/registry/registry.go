package registry

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when the registry cannot be reached.
	ErrUnavailable = errors.New("registry unavailable")
	// ErrNotFound is returned by GetEntity for ids the registry does not know.
	ErrNotFound = errors.New("entity not in registry")
)

// Entry is one entity as declared by the entity registry.
type Entry struct {
	EntityID string `json:"entity_id" yaml:"entity_id"`
	// Name is the display name the user set in the UI. Empty when never customised.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// OriginalName is the integration-provided default name.
	OriginalName string   `json:"original_name,omitempty" yaml:"original_name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	AreaID       string   `json:"area_id,omitempty" yaml:"area_id,omitempty"`
	DeviceID     string   `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	DisabledBy   string   `json:"disabled_by,omitempty" yaml:"disabled_by,omitempty"`
}

// State is a live state object as reported by the state machine.
type State struct {
	EntityID    string          `json:"entity_id" yaml:"entity_id"`
	State       string          `json:"state" yaml:"state"`
	Attributes  StateAttributes `json:"attributes" yaml:"attributes"`
	LastChanged time.Time       `json:"last_changed" yaml:"last_changed,omitempty"`
}

// StateAttributes holds the subset of state attributes automind reads.
type StateAttributes struct {
	FriendlyName      string `json:"friendly_name,omitempty" yaml:"friendly_name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty" yaml:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty" yaml:"unit_of_measurement,omitempty"`
}

// Registry is the entity registry lookup.
type Registry interface {
	// GetEntity returns a single entry or ErrNotFound.
	GetEntity(ctx context.Context, id string) (*Entry, error)
	// GetEntityRegistry returns every entry keyed by entity id.
	GetEntityRegistry(ctx context.Context) (map[string]Entry, error)
}

// StateReader returns the live state view, used for legacy friendly names.
type StateReader interface {
	GetStates(ctx context.Context) ([]State, error)
}

// Domain returns the domain part of an entity id ("light" for "light.kitchen").
func Domain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return domain
}

// domainServices lists the services each controllable domain accepts.
// Read-only domains (sensor, binary_sensor, sun, ...) have no entry.
var domainServices = map[string][]string{
	"light":         {"turn_on", "turn_off", "toggle"},
	"switch":        {"turn_on", "turn_off", "toggle"},
	"fan":           {"turn_on", "turn_off", "toggle", "set_percentage"},
	"input_boolean": {"turn_on", "turn_off", "toggle"},
	"cover":         {"open_cover", "close_cover", "stop_cover", "set_cover_position"},
	"climate":       {"turn_on", "turn_off", "set_temperature", "set_hvac_mode"},
	"media_player":  {"turn_on", "turn_off", "media_play", "media_pause", "volume_set"},
	"lock":          {"lock", "unlock"},
	"scene":         {"turn_on"},
	"script":        {"turn_on"},
	"vacuum":        {"start", "stop", "return_to_base"},
	"siren":         {"turn_on", "turn_off"},
	"humidifier":    {"turn_on", "turn_off", "set_humidity"},
	"water_heater":  {"turn_on", "turn_off", "set_temperature"},
	"input_number":  {"set_value"},
	"input_select":  {"select_option"},
	"notify":        {"send_message"},
}

// DefaultCapabilities returns the services supported by entities of domain.
func DefaultCapabilities(domain string) []string {
	services := domainServices[domain]
	if services == nil {
		return nil
	}
	out := make([]string, len(services))
	copy(out, services)
	return out
}

// withCapabilities fills in domain capabilities for entries that carry none.
func withCapabilities(e Entry) Entry {
	if len(e.Capabilities) == 0 {
		e.Capabilities = DefaultCapabilities(Domain(e.EntityID))
	}
	return e
}

// stateServices maps a target state to the service that produces it.
var stateServices = map[string]map[string]string{
	"cover":        {"open": "open_cover", "closed": "close_cover"},
	"lock":         {"locked": "lock", "unlocked": "unlock"},
	"media_player": {"playing": "media_play", "paused": "media_pause", "on": "turn_on", "off": "turn_off"},
	"vacuum":       {"cleaning": "start", "docked": "return_to_base", "idle": "stop"},
}

// ServiceForState returns the service that drives an entity of domain into
// state, or "" when there is none.
func ServiceForState(domain, state string) string {
	if m, ok := stateServices[domain]; ok {
		return m[state]
	}
	switch state {
	case "on":
		if len(domainServices[domain]) > 0 {
			return "turn_on"
		}
	case "off":
		if len(domainServices[domain]) > 0 {
			return "turn_off"
		}
	}
	return ""
}
