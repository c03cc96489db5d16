// Package entity resolves loose device mentions to canonical Home Assistant
// entities.
package entity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/ziadkadry99/automind/internal/registry"
)

// NameSource records which tier of the naming chain supplied an entity's name.
type NameSource string

const (
	NameFromRegistry     NameSource = "registry_name"
	NameFromOriginalName NameSource = "original_name"
	NameFromState        NameSource = "friendly_name"
	NameFromID           NameSource = "entity_id"
)

// Entity is an addressable device or sensor as seen during one resolution pass.
type Entity struct {
	ID           string     `json:"id"`
	Domain       string     `json:"domain"`
	Name         string     `json:"name"`
	NameSource   NameSource `json:"name_source"`
	Capabilities []string   `json:"capabilities,omitempty"`
	AreaID       string     `json:"area_id,omitempty"`
	DeviceID     string     `json:"device_id,omitempty"`
	// Aliases holds every non-empty name the entity is known by.
	Aliases []string `json:"aliases,omitempty"`
}

// Supports reports whether the entity accepts the given service.
func (e Entity) Supports(service string) bool {
	return slices.Contains(e.Capabilities, service)
}

// ErrEntityNotFound is returned when a reference matches no entity.
var ErrEntityNotFound = errors.New("entity not found")

// AmbiguousReferenceError is returned when a mention matches several entities.
type AmbiguousReferenceError struct {
	Mention    string
	Candidates []Entity
}

func (e *AmbiguousReferenceError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = c.ID
	}
	return fmt.Sprintf("%q matches %d entities: %s", e.Mention, len(ids), strings.Join(ids, ", "))
}

// CanonicalName picks the name shown to the user. The first non-empty of the
// registry display name, the registry original name, the live-state
// friendly name and a name derived from the id wins.
func CanonicalName(id string, entry *registry.Entry, state *registry.State) (string, NameSource) {
	if entry != nil {
		if n := strings.TrimSpace(entry.Name); n != "" {
			return n, NameFromRegistry
		}
		if n := strings.TrimSpace(entry.OriginalName); n != "" {
			return n, NameFromOriginalName
		}
	}
	if state != nil {
		if n := strings.TrimSpace(state.Attributes.FriendlyName); n != "" {
			return n, NameFromState
		}
	}
	return NameFromEntityID(id), NameFromID
}

// NameFromEntityID derives a readable name from an entity id:
// "light.living_room_lamp" becomes "Living Room Lamp".
func NameFromEntityID(id string) string {
	_, object, ok := strings.Cut(id, ".")
	if !ok {
		object = id
	}
	words := strings.FieldsFunc(object, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func build(id string, entry *registry.Entry, state *registry.State) Entity {
	name, source := CanonicalName(id, entry, state)
	e := Entity{
		ID:         id,
		Domain:     registry.Domain(id),
		Name:       name,
		NameSource: source,
	}
	var aliases []string
	if entry != nil {
		e.Capabilities = append([]string(nil), entry.Capabilities...)
		e.AreaID = entry.AreaID
		e.DeviceID = entry.DeviceID
		aliases = append(aliases, entry.Name, entry.OriginalName)
	}
	if state != nil {
		aliases = append(aliases, state.Attributes.FriendlyName)
	}
	aliases = append(aliases, NameFromEntityID(id))
	if len(e.Capabilities) == 0 {
		e.Capabilities = registry.DefaultCapabilities(e.Domain)
	}
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a != "" && !slices.Contains(e.Aliases, a) {
			e.Aliases = append(e.Aliases, a)
		}
	}
	return e
}
