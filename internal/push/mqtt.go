package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttPublisher is the subset of mqtt.Client used here.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSender publishes push payloads to <prefix>/<pushToken> for devices
// that hold a broker connection instead of an FCM registration.
type MQTTSender struct {
	client     mqttPublisher
	prefix     string
	disconnect func()
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type mqttEnvelope struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Priority  string  `json:"priority"`
	Data      Payload `json:"data"`
}

// NewMQTTSender connects to the broker. Close disconnects.
func NewMQTTSender(ctx context.Context, cfg MQTTConfig) (*MQTTSender, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("push: mqtt broker url is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "call-signaling"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	// Unique per process so several instances can share a broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("push: mqtt connect: %w", ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("push: mqtt connect: %w", err)
	}
	s := newMQTTSender(client, cfg.TopicPrefix)
	s.disconnect = func() { client.Disconnect(250) }
	return s, nil
}

func newMQTTSender(client mqttPublisher, prefix string) *MQTTSender {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "calls/push"
	}
	return &MQTTSender{client: client, prefix: prefix}
}

func (s *MQTTSender) Name() string { return "mqtt" }

func (s *MQTTSender) Close() {
	if s.disconnect != nil {
		s.disconnect()
	}
}

func (s *MQTTSender) Topic(token string) string { return s.prefix + "/" + token }

func (s *MQTTSender) Send(ctx context.Context, m Message) (string, error) {
	env := mqttEnvelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Priority:  "normal",
		Data:      m.Data,
	}
	if m.HighPriority {
		env.Priority = "high"
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	tok := s.client.Publish(s.Topic(m.Token), 1, false, b)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return "", err
	}
	return env.ID, nil
}
