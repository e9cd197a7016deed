// Package kafka implements the Kafka-style sink (C4): each CloudEvent is
// encoded as a binary-mode Kafka record (attributes become headers, data
// becomes the value) and produced via segmentio/kafka-go.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/oauth"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/oauthcreds"
)

// SecurityProtocol selects the transport security posture.
type SecurityProtocol string

const (
	SaslSsl   SecurityProtocol = "SaslSsl"
	Plaintext SecurityProtocol = "Plaintext"
)

// SaslMechanism selects the SASL auth mechanism under SaslSsl.
type SaslMechanism string

const (
	MechanismPlain        SaslMechanism = "Plain"
	MechanismOAuthBearer  SaslMechanism = "OAuthBearer"
)

const (
	batchBytes  = 64 * 1024
	lingerMs    = 10 * time.Millisecond
	writeRetries = 5
)

// Options configures the Kafka sink.
type Options struct {
	Name    string
	Brokers []string
	Topic   string

	SecurityProtocol SecurityProtocol
	SaslMechanism    SaslMechanism

	Username string
	Password string

	OAuth *oauthcreds.Config
}

// Sink produces CloudEvents to a Kafka topic as binary-mode records.
type Sink struct {
	name   string
	writer *kafkago.Writer
	tokens *oauthcreds.TokenCache
	oauth  bool

	healthy atomic.Bool
}

// New constructs a Kafka sink, connecting lazily (kafka-go dials on first
// write).
func New(opts Options) (*Sink, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("sinks/kafka: at least one broker is required")
	}

	transport := &kafkago.Transport{}

	s := &Sink{name: opts.Name}

	switch opts.SecurityProtocol {
	case SaslSsl:
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}

		mechanism, tokens, oauthConfigured, err := buildMechanism(opts)
		if err != nil {
			return nil, err
		}

		transport.SASL = mechanism
		s.tokens = tokens
		s.oauth = oauthConfigured
	case Plaintext, "":
		// no transport security
	default:
		return nil, fmt.Errorf("sinks/kafka: unknown security protocol %q", opts.SecurityProtocol)
	}

	s.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Transport:    transport,
		BatchBytes:   batchBytes,
		BatchTimeout: lingerMs,
		MaxAttempts:  writeRetries,
		RequiredAcks: kafkago.RequireAll,
	}

	s.healthy.Store(true)

	return s, nil
}

func buildMechanism(opts Options) (sasl.Mechanism, *oauthcreds.TokenCache, bool, error) {
	switch opts.SaslMechanism {
	case MechanismPlain, "":
		return plain.Mechanism{Username: opts.Username, Password: opts.Password}, nil, false, nil
	case MechanismOAuthBearer:
		if opts.OAuth == nil {
			return nil, nil, false, fmt.Errorf("sinks/kafka: OAuthBearer requires OAuth config")
		}

		tokens := oauthcreds.New(*opts.OAuth)

		return oauth.Mechanism{TokenSource: tokens}, tokens, true, nil
	default:
		return nil, nil, false, fmt.Errorf("sinks/kafka: unknown SASL mechanism %q", opts.SaslMechanism)
	}
}

func (s *Sink) Name() string {
	return s.name
}

func (s *Sink) IsHealthy() bool {
	return s.healthy.Load()
}

// SendBatch encodes and writes every event in batch as one Kafka record
// each, preserving input order.
func (s *Sink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	if s.oauth {
		if _, err := s.tokens.AccessToken(ctx); err != nil {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/kafka: refresh OAuth token: %w", err)
		}
	}

	messages := make([]kafkago.Message, 0, len(batch))

	for _, event := range batch {
		value, err := json.Marshal(event.Data)
		if err != nil {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/kafka: marshal event %s: %w", event.ID, err)
		}

		messages = append(messages, kafkago.Message{
			Key:     []byte(event.Subject),
			Value:   value,
			Headers: attributeHeaders(event),
		})
	}

	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		s.healthy.Store(false)
		return fmt.Errorf("sinks/kafka: write messages: %w", err)
	}

	s.healthy.Store(true)

	return nil
}

func attributeHeaders(event cloudevents.CloudEvent) []kafkago.Header {
	return []kafkago.Header{
		{Key: "ce_id", Value: []byte(event.ID)},
		{Key: "ce_source", Value: []byte(event.Source)},
		{Key: "ce_type", Value: []byte(event.Type)},
		{Key: "ce_subject", Value: []byte(event.Subject)},
		{Key: "ce_time", Value: []byte(event.Time.Format(time.RFC3339Nano))},
		{Key: "ce_specversion", Value: []byte(event.SpecVersion)},
		{Key: "content-type", Value: []byte(event.DataContentType)},
	}
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
