package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeHA speaks enough of the websocket API to answer registry commands.
func fakeHA(t *testing.T, token string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			conn.WriteJSON(map[string]string{"type": "auth_invalid", "message": "bad token"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		for {
			var cmd struct {
				ID   int    `json:"id"`
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			// An unrelated event first; the client must skip it.
			conn.WriteJSON(map[string]any{"id": 99, "type": "event"})

			var result any
			switch cmd.Type {
			case "config/entity_registry/list":
				result = []map[string]any{
					{"entity_id": "light.kitchen", "name": nil, "original_name": "Kitchen Ceiling", "area_id": nil, "device_id": "dev1"},
					{"entity_id": "switch.fan", "name": "Fan", "original_name": "Plug 3", "area_id": "office", "device_id": nil},
				}
			case "config/device_registry/list":
				result = []map[string]any{{"id": "dev1", "area_id": "kitchen"}}
			case "get_states":
				result = []map[string]any{
					{"entity_id": "light.kitchen", "state": "on", "attributes": map[string]any{"friendly_name": "Kitchen"}},
				}
			default:
				conn.WriteJSON(map[string]any{"id": cmd.ID, "type": "result", "success": false,
					"error": map[string]string{"code": "unknown_command", "message": "Unknown command."}})
				continue
			}
			conn.WriteJSON(map[string]any{"id": cmd.ID, "type": "result", "success": true, "result": result})
		}
	}))
}

func TestWSClientGetEntityRegistry(t *testing.T) {
	srv := fakeHA(t, "tok")
	defer srv.Close()

	c, err := NewWSClient(srv.URL, "tok", nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	all, err := c.GetEntityRegistry(context.Background())
	if err != nil {
		t.Fatalf("GetEntityRegistry: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	kitchen := all["light.kitchen"]
	if kitchen.Name != "" || kitchen.OriginalName != "Kitchen Ceiling" {
		t.Errorf("unexpected names: %+v", kitchen)
	}
	if kitchen.AreaID != "kitchen" {
		t.Errorf("expected area inherited from device, got %q", kitchen.AreaID)
	}
	if all["switch.fan"].Name != "Fan" {
		t.Errorf("unexpected fan entry: %+v", all["switch.fan"])
	}
}

func TestWSClientGetEntity(t *testing.T) {
	srv := fakeHA(t, "tok")
	defer srv.Close()

	c, _ := NewWSClient(srv.URL, "tok", nil)
	if _, err := c.GetEntity(context.Background(), "light.none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWSClientGetStates(t *testing.T) {
	srv := fakeHA(t, "tok")
	defer srv.Close()

	c, _ := NewWSClient(srv.URL, "tok", nil)
	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(states) != 1 || states[0].Attributes.FriendlyName != "Kitchen" {
		t.Errorf("unexpected states: %+v", states)
	}
}

func TestWSClientAuthRejected(t *testing.T) {
	srv := fakeHA(t, "tok")
	defer srv.Close()

	c, _ := NewWSClient(srv.URL, "wrong", nil)
	if _, err := c.GetStates(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestWSClientUnreachable(t *testing.T) {
	srv := fakeHA(t, "tok")
	url := srv.URL
	srv.Close()

	c, _ := NewWSClient(url, "tok", nil)
	if _, err := c.GetEntityRegistry(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewWSClientSchemes(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://ha.local:8123", "ws://ha.local:8123/api/websocket", false},
		{"https://ha.example.com/", "wss://ha.example.com/api/websocket", false},
		{"ftp://ha", "", true},
	}
	for _, tt := range tests {
		c, err := NewWSClient(tt.in, "", nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewWSClient(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && c.url != tt.want {
			t.Errorf("NewWSClient(%q).url = %q, want %q", tt.in, c.url, tt.want)
		}
	}
}
