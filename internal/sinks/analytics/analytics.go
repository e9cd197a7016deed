// Package analytics implements the analytics-ingestor sink (C4): CloudEvents
// are grouped by type and streamed as newline-delimited JSON into Azure Data
// Explorer / Kusto tables, using the pre-declared JSON-path-to-column
// ingestion mapping for each event type.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/Azure/azure-kusto-go/kusto"
	"github.com/Azure/azure-kusto-go/kusto/ingest"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
)

// TypeMapping names the table and ingestion-mapping reference used to
// ingest CloudEvents of one type into Kusto.
type TypeMapping struct {
	Table         string
	IngestionMappingRef string
}

// Options configures the analytics sink.
type Options struct {
	Name           string
	IngestionURI   string
	Database       string
	TypeMappings   map[string]TypeMapping
}

// Sink streams CloudEvents into Kusto tables, grouped by CloudEvent type.
type Sink struct {
	name         string
	database     string
	typeMappings map[string]TypeMapping

	client    *kusto.Client
	ingestors map[string]*ingest.Ingestion

	healthy atomic.Bool
}

// New constructs an analytics sink and one ingestion client per configured
// table.
func New(opts Options) (*Sink, error) {
	kcsb := kusto.NewConnectionStringBuilder(opts.IngestionURI)

	client, err := kusto.New(kcsb)
	if err != nil {
		return nil, fmt.Errorf("sinks/analytics: build kusto client: %w", err)
	}

	s := &Sink{
		name:         opts.Name,
		database:     opts.Database,
		typeMappings: opts.TypeMappings,
		client:       client,
		ingestors:    make(map[string]*ingest.Ingestion, len(opts.TypeMappings)),
	}

	for eventType, mapping := range opts.TypeMappings {
		ingestor, err := ingest.New(client, opts.Database, mapping.Table)
		if err != nil {
			return nil, fmt.Errorf("sinks/analytics: build ingestor for table %s: %w", mapping.Table, err)
		}

		s.ingestors[eventType] = ingestor
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

// SendBatch groups batch by CloudEvent type and streams each group as one
// newline-delimited JSON ingestion per group.
func (s *Sink) SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error {
	grouped := make(map[string][]cloudevents.CloudEvent, len(s.typeMappings))
	for _, event := range batch {
		grouped[event.Type] = append(grouped[event.Type], event)
	}

	for eventType, events := range grouped {
		mapping, ok := s.typeMappings[eventType]
		if !ok {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/analytics: no ingestion mapping configured for event type %q", eventType)
		}

		ingestor, ok := s.ingestors[eventType]
		if !ok {
			s.healthy.Store(false)
			return fmt.Errorf("sinks/analytics: no ingestor configured for event type %q", eventType)
		}

		if err := s.ingestGroup(ctx, ingestor, mapping, events); err != nil {
			s.healthy.Store(false)
			return err
		}
	}

	s.healthy.Store(true)

	return nil
}

func (s *Sink) ingestGroup(ctx context.Context, ingestor *ingest.Ingestion, mapping TypeMapping, events []cloudevents.CloudEvent) error {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("sinks/analytics: encode event %s: %w", event.ID, err)
		}
	}

	_, err := ingestor.FromReader(ctx, &buf,
		ingest.IngestionMappingRef(mapping.IngestionMappingRef, ingest.JSON),
		ingest.FileFormat(ingest.JSON),
	)
	if err != nil {
		return fmt.Errorf("sinks/analytics: ingest into %s: %w", mapping.Table, err)
	}

	return nil
}

// Close releases per-table ingestors and the Kusto client.
func (s *Sink) Close() error {
	for _, ingestor := range s.ingestors {
		_ = ingestor.Close()
	}

	return s.client.Close()
}
