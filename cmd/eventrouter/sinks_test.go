package main

import (
	"testing"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOneSink_Webhook(t *testing.T) {
	c := SinkConfig{
		Name:    "webhook-1",
		Kind:    SinkWebhook,
		Webhook: &WebhookConfig{URL: "https://example.invalid/events"},
	}

	sink, err := buildOneSink(c)

	require.NoError(t, err)
	assert.NotNil(t, sink)
}

func TestBuildOneSink_MissingBlock(t *testing.T) {
	tests := []struct {
		name string
		cfg  SinkConfig
	}{
		{name: "kafka without kafka block", cfg: SinkConfig{Name: "s", Kind: SinkKafka}},
		{name: "mqtt without mqtt block", cfg: SinkConfig{Name: "s", Kind: SinkMQTT}},
		{name: "webhook without webhook block", cfg: SinkConfig{Name: "s", Kind: SinkWebhook}},
		{name: "analytics without analytics block", cfg: SinkConfig{Name: "s", Kind: SinkAnalytics}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildOneSink(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildOneSink_UnknownKind(t *testing.T) {
	_, err := buildOneSink(SinkConfig{Name: "s", Kind: "Bogus"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestBuildSinks_CollectsTypeMappings(t *testing.T) {
	cfgs := []SinkConfig{
		{
			Name:    "webhook-1",
			Kind:    SinkWebhook,
			Webhook: &WebhookConfig{URL: "https://example.invalid/events"},
			TypeMappings: map[cloudevents.TypeKey]string{
				cloudevents.TypeTwinCreate: "custom.type.create",
			},
		},
		{
			Name:    "webhook-2",
			Kind:    SinkWebhook,
			Webhook: &WebhookConfig{URL: "https://example.invalid/other"},
		},
	}

	registry, typeMappings, err := buildSinks(cfgs, nil, nil)

	require.NoError(t, err)
	assert.Len(t, registry, 2)
	assert.Contains(t, registry, "webhook-1")
	assert.Contains(t, registry, "webhook-2")
	assert.Equal(t, map[string]map[cloudevents.TypeKey]string{
		"webhook-1": {cloudevents.TypeTwinCreate: "custom.type.create"},
	}, typeMappings)
}

func TestBuildSinks_PropagatesBuildError(t *testing.T) {
	cfgs := []SinkConfig{
		{Name: "broken", Kind: SinkKafka},
	}

	_, _, err := buildSinks(cfgs, nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestBuildRoutes(t *testing.T) {
	routes := []EventRoute{
		{
			SinkName:    "webhook-1",
			EventFormat: cloudevents.EventNotification,
			TypeMappings: map[cloudevents.TypeKey]string{
				cloudevents.TypeTwinUpdate: "custom.type.update",
			},
		},
	}

	out := buildRoutes(routes)

	require.Len(t, out, 1)
	assert.Equal(t, "webhook-1", out[0].SinkName)
	assert.Equal(t, cloudevents.EventNotification, out[0].EventFormat)
	assert.Equal(t, "custom.type.update", out[0].TypeMappings[cloudevents.TypeTwinUpdate])
}
