// Package mqtt implements the MQTT sink (C4): each CloudEvent is published
// in structured mode (the whole envelope as one JSON payload) via
// eclipse/paho.mqtt.golang, reconnecting on drop and refetching any
// configured OAuth token on reconnect.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqttgo "github.com/eclipse/paho.mqtt.golang"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/oauthcreds"
)

// ProtocolVersion selects the MQTT wire version.
type ProtocolVersion string

const (
	Protocol310 ProtocolVersion = "3.1.0"
	Protocol311 ProtocolVersion = "3.1.1"
	Protocol50  ProtocolVersion = "5.0.0"
)

const publishTimeout = 10 * time.Second

// Options configures the MQTT sink.
type Options struct {
	Name            string
	BrokerHost      string
	BrokerPort      int
	ClientID        string
	Topic           string
	ProtocolVersion ProtocolVersion

	Username string
	Password string

	OAuth *oauthcreds.Config
}

// Sink publishes CloudEvents to an MQTT topic, one PUBLISH per event.
type Sink struct {
	name    string
	topic   string
	client  mqttgo.Client
	tokens  *oauthcreds.TokenCache
	healthy atomic.Bool
}

// New constructs an MQTT sink and connects eagerly.
func New(opts Options) (*Sink, error) {
	s := &Sink{name: opts.Name, topic: opts.Topic}

	if opts.OAuth != nil {
		s.tokens = oauthcreds.New(*opts.OAuth)
	}

	clientOpts := mqttgo.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.BrokerHost, opts.BrokerPort)).
		SetClientID(opts.ClientID).
		SetProtocolVersion(protocolVersionCode(opts.ProtocolVersion)).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(mqttgo.Client, error) {
			s.healthy.Store(false)
		}).
		SetOnConnectHandler(func(mqttgo.Client) {
			s.healthy.Store(true)
		})

	if s.tokens != nil {
		if _, err := s.tokens.AccessToken(context.Background()); err != nil {
			return nil, fmt.Errorf("sinks/mqtt: initial OAuth token: %w", err)
		}
		// paho calls the provider on every connect and reconnect, so each
		// attempt authenticates with a current token from the cache.
		clientOpts.SetCredentialsProvider(func() (string, string) {
			token, _ := s.tokens.AccessToken(context.Background())
			return opts.Username, token
		})
	} else if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	s.client = mqttgo.NewClient(clientOpts)

	if tok := s.client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("sinks/mqtt: connect: %w", tok.Error())
	}

	s.healthy.Store(true)

	return s, nil
}

func protocolVersionCode(v ProtocolVersion) uint {
	switch v {
	case Protocol310:
		return 3
	case Protocol50:
		return 5
	case Protocol311, "":
		return 4
	default:
		return 4
	}
}

func (s *Sink) Name() string {
	return s.name
}

func (s *Sink) IsHealthy() bool {
	return s.healthy.Load() && s.client.IsConnected()
}

// SendBatch publishes each event individually, preserving input order.
func (s *Sink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	if s.tokens != nil && !s.client.IsConnected() {
		if _, err := s.tokens.AccessToken(ctx); err != nil {
			return fmt.Errorf("sinks/mqtt: refresh OAuth token on reconnect: %w", err)
		}
	}

	for _, event := range batch {
		payload, err := json.Marshal(event)
		if err != nil {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/mqtt: marshal event %s: %w", event.ID, err)
		}

		token := s.client.Publish(s.topic, 1, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/mqtt: publish event %s: timeout", event.ID)
		}

		if err := token.Error(); err != nil {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/mqtt: publish event %s: %w", event.ID, err)
		}
	}

	s.healthy.Store(true)

	return nil
}

// Close disconnects the client gracefully.
func (s *Sink) Close() {
	s.client.Disconnect(250)
}
