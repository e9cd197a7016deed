// Package webhook implements the Webhook sink (C4): each event is POSTed
// individually as application/cloudevents+json, with None/Basic/Bearer/
// OAuth authentication.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/oauthcreds"
)

// AuthType selects how the sink authenticates against the target URL.
type AuthType string

const (
	AuthNone   AuthType = "None"
	AuthBasic  AuthType = "Basic"
	AuthBearer AuthType = "Bearer"
	AuthOAuth  AuthType = "OAuth"
)

const requestTimeout = 15 * time.Second

// Options configures the Webhook sink.
type Options struct {
	Name     string
	URL      string
	AuthType AuthType

	// Basic
	Username string
	Password string

	// Bearer
	BearerToken string

	// OAuth
	OAuth *oauthcreds.Config
}

// Sink POSTs CloudEvents to a configured URL.
type Sink struct {
	name     string
	url      string
	authType AuthType
	username string
	password string
	bearer   string
	tokens   *oauthcreds.TokenCache

	httpClient *http.Client
	healthy    atomic.Bool
}

// New constructs a Webhook sink.
func New(opts Options) (*Sink, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("sinks/webhook: url is required")
	}

	s := &Sink{
		name:       opts.Name,
		url:        opts.URL,
		authType:   opts.AuthType,
		username:   opts.Username,
		password:   opts.Password,
		bearer:     opts.BearerToken,
		httpClient: &http.Client{Timeout: requestTimeout},
	}

	if opts.AuthType == AuthOAuth {
		if opts.OAuth == nil {
			return nil, fmt.Errorf("sinks/webhook: OAuth auth type requires OAuth config")
		}

		s.tokens = oauthcreds.New(*opts.OAuth)
	}

	s.healthy.Store(true)

	return s, nil
}

func (s *Sink) Name() string {
	return s.name
}

func (s *Sink) IsHealthy() bool {
	return s.healthy.Load()
}

// SendBatch POSTs each event individually, preserving input order, so one
// failed delivery does not obscure which event in the batch failed.
func (s *Sink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	for _, event := range batch {
		if err := s.send(ctx, event); err != nil {
			s.healthy.Store(false)
			return err
		}
	}

	s.healthy.Store(true)

	return nil
}

func (s *Sink) send(ctx context.Context, event cloudevents.CloudEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("sinks/webhook: marshal event %s: %w", event.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sinks/webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/cloudevents+json")

	if err := s.authenticate(ctx, req); err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sinks/webhook: post event %s: %w", event.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sinks/webhook: event %s: unexpected status %d", event.ID, resp.StatusCode)
	}

	return nil
}

func (s *Sink) authenticate(ctx context.Context, req *http.Request) error {
	switch s.authType {
	case AuthNone, "":
		return nil
	case AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(s.username + ":" + s.password))
		req.Header.Set("Authorization", "Basic "+creds)

		return nil
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.bearer)

		return nil
	case AuthOAuth:
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("sinks/webhook: oauth token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)

		return nil
	default:
		return fmt.Errorf("sinks/webhook: unknown auth type %q", s.authType)
	}
}
