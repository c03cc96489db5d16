package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient reads the entity registry and live states over the Home Assistant
// websocket API. Each call opens its own authenticated connection.
type WSClient struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSClient creates a client for the instance at baseURL (http or https).
func NewWSClient(baseURL, token string, logger *zap.Logger) (*WSClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing home assistant url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path += "/api/websocket"
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		url:    u.String(),
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

type wsMessage struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *wsError        `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsRegistryEntry struct {
	EntityID     string  `json:"entity_id"`
	Name         *string `json:"name"`
	OriginalName *string `json:"original_name"`
	AreaID       *string `json:"area_id"`
	DeviceID     *string `json:"device_id"`
	DisabledBy   *string `json:"disabled_by"`
}

type wsDevice struct {
	ID     string  `json:"id"`
	AreaID *string `json:"area_id"`
}

// wsSession is one authenticated connection.
type wsSession struct {
	conn   *websocket.Conn
	nextID int
}

func (c *WSClient) connect(ctx context.Context) (*wsSession, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w: %v", c.url, ErrUnavailable, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	closeFn := func() {
		stop()
		conn.Close()
	}

	s := &wsSession{conn: conn, nextID: 1}
	if err := s.authenticate(c.token); err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

func (s *wsSession) authenticate(token string) error {
	var hello wsMessage
	if err := s.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading auth greeting: %w: %v", ErrUnavailable, err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected greeting %q: %w", hello.Type, ErrUnavailable)
	}
	if err := s.conn.WriteJSON(wsMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("sending auth: %w: %v", ErrUnavailable, err)
	}
	var reply wsMessage
	if err := s.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reading auth reply: %w: %v", ErrUnavailable, err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected (%s): %w", reply.Message, ErrUnavailable)
	}
	return nil
}

// command sends a command and decodes its result into out. Events and
// results for other ids are skipped.
func (s *wsSession) command(msgType string, out any) error {
	id := s.nextID
	s.nextID++
	if err := s.conn.WriteJSON(wsMessage{ID: id, Type: msgType}); err != nil {
		return fmt.Errorf("sending %s: %w: %v", msgType, ErrUnavailable, err)
	}
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading %s result: %w: %v", msgType, ErrUnavailable, err)
		}
		if msg.Type != "result" || msg.ID != id {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			detail := "unknown error"
			if msg.Error != nil {
				detail = msg.Error.Code + ": " + msg.Error.Message
			}
			return fmt.Errorf("%s failed: %s", msgType, detail)
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", msgType, err)
		}
		return nil
	}
}

// GetEntityRegistry lists the entity registry. Entities without their own
// area inherit the area of their device.
func (c *WSClient) GetEntityRegistry(ctx context.Context) (map[string]Entry, error) {
	s, closeFn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var raw []wsRegistryEntry
	if err := s.command("config/entity_registry/list", &raw); err != nil {
		return nil, err
	}
	var devices []wsDevice
	if err := s.command("config/device_registry/list", &devices); err != nil {
		// Device areas are an enrichment; entity areas still apply.
		c.logger.Warn("device registry unavailable", zap.Error(err))
	}
	deviceArea := make(map[string]string, len(devices))
	for _, d := range devices {
		deviceArea[d.ID] = deref(d.AreaID)
	}

	out := make(map[string]Entry, len(raw))
	for _, r := range raw {
		if r.EntityID == "" {
			continue
		}
		e := Entry{
			EntityID:     r.EntityID,
			Name:         deref(r.Name),
			OriginalName: deref(r.OriginalName),
			AreaID:       deref(r.AreaID),
			DeviceID:     deref(r.DeviceID),
			DisabledBy:   deref(r.DisabledBy),
		}
		if e.AreaID == "" && e.DeviceID != "" {
			e.AreaID = deviceArea[e.DeviceID]
		}
		out[e.EntityID] = withCapabilities(e)
	}
	c.logger.Debug("loaded entity registry", zap.Int("entities", len(out)))
	return out, nil
}

// GetEntity fetches the registry and returns one entry.
func (c *WSClient) GetEntity(ctx context.Context, id string) (*Entry, error) {
	all, err := c.GetEntityRegistry(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := all[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &e, nil
}

// GetStates returns the live state of every entity.
func (c *WSClient) GetStates(ctx context.Context) ([]State, error) {
	s, closeFn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var states []State
	if err := s.command("get_states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
