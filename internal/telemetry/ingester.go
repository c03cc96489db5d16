package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Appender is the write side of the transition store.
type Appender interface {
	Append(ctx context.Context, transitions []StateTransition, source string) (int, error)
}

// Ingester records live state changes published by the Home Assistant MQTT
// statestream integration (<prefix>/<domain>/<object_id>/state).
type Ingester struct {
	broker   string
	prefix   string
	clientID string
	store    Appender
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]string
	now  func() time.Time
}

// NewIngester creates an ingester writing into store.
func NewIngester(broker, prefix, clientID string, store Appender, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clientID == "" {
		clientID = "automind"
	}
	return &Ingester{
		broker:   broker,
		prefix:   strings.TrimRight(prefix, "/"),
		clientID: clientID,
		store:    store,
		logger:   logger,
		last:     make(map[string]string),
		now:      time.Now,
	}
}

// Topic returns the subscription filter for state topics.
func (i *Ingester) Topic() string {
	return i.prefix + "/+/+/state"
}

// Run connects to the broker and ingests until ctx is cancelled.
func (i *Ingester) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.broker).
		SetClientID(i.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(i.Topic(), 0, func(_ mqtt.Client, m mqtt.Message) {
			i.HandleMessage(ctx, m.Topic(), m.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			i.logger.Error("subscribing to statestream", zap.String("topic", i.Topic()), zap.Error(err))
			return
		}
		i.logger.Info("subscribed to statestream", zap.String("topic", i.Topic()))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		i.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to %s: %w", i.broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return ctx.Err()
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

// HandleMessage records one statestream message. Payloads equal to the last
// seen state of the entity are ignored.
func (i *Ingester) HandleMessage(ctx context.Context, topic string, payload []byte) {
	entityID, ok := i.entityFromTopic(topic)
	if !ok {
		i.logger.Debug("ignoring topic", zap.String("topic", topic))
		return
	}
	state := strings.Trim(strings.TrimSpace(string(payload)), `"`)
	if state == "" {
		return
	}

	i.mu.Lock()
	prev, seen := i.last[entityID]
	i.last[entityID] = state
	i.mu.Unlock()

	// The first message after start-up carries the retained state, not a change.
	if !seen || prev == state {
		return
	}

	tr := StateTransition{EntityID: entityID, From: prev, To: state, At: i.now().UTC()}
	if _, err := i.store.Append(ctx, []StateTransition{tr}, "mqtt"); err != nil {
		i.logger.Error("storing transition", zap.String("entity_id", entityID), zap.Error(err))
	}
}

func (i *Ingester) entityFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, i.prefix+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}
