// Package explorer coordinates registry profiles, registry clients and the
// aggregator behind the CLI and the HTTP API.
package explorer

import (
	"context"
	"errors"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/chis/regview/internal/aggregate"
	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/profiles"
	"github.com/chis/regview/internal/registry"
	"github.com/chis/regview/internal/storage"
)

// ClientFactory builds a registry client for a stored descriptor.
type ClientFactory func(registry.Descriptor) (registry.Client, error)

// Service is the entry point for every registry operation.
type Service struct {
	profiles   *profiles.Store
	newClient  ClientFactory
	aggregator *aggregate.Aggregator
	history    storage.HistoryStore
	bus        *events.Bus
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records every scan into h.
func WithHistory(h storage.HistoryStore) Option {
	return func(s *Service) { s.history = h }
}

// WithEventBus publishes tag deletions on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for scan records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service.
func New(store *profiles.Store, newClient ClientFactory, agg *aggregate.Aggregator, opts ...Option) *Service {
	s := &Service{
		profiles:   store,
		newClient:  newClient,
		aggregator: agg,
		logger:     logging.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registries returns every stored descriptor with passwords redacted.
func (s *Service) Registries(ctx context.Context) ([]registry.Descriptor, error) {
	list, err := s.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.Descriptor, len(list))
	for i, d := range list {
		out[i] = d.Redacted()
	}
	return out, nil
}

// Registry returns one descriptor, credentials included.
func (s *Service) Registry(ctx context.Context, id string) (registry.Descriptor, error) {
	d, err := s.profiles.Get(ctx, id)
	if errors.Is(err, profiles.ErrNotFound) {
		return registry.Descriptor{}, &NotFoundError{Err: err}
	}
	return d, err
}

// AddRegistry validates and stores d. The result is redacted.
func (s *Service) AddRegistry(ctx context.Context, d registry.Descriptor) (registry.Descriptor, error) {
	added, err := s.profiles.Add(ctx, d)
	if errors.Is(err, registry.ErrInvalidDescriptor) {
		return registry.Descriptor{}, &BadRequestError{Err: err}
	}
	if err != nil {
		return registry.Descriptor{}, err
	}
	s.logger.Info("Added registry %s (%s)", added.Name, added.Address())
	return added.Redacted(), nil
}

// RemoveRegistry deletes the descriptor with id.
func (s *Service) RemoveRegistry(ctx context.Context, id string) error {
	err := s.profiles.Remove(ctx, id)
	if errors.Is(err, profiles.ErrNotFound) {
		return &NotFoundError{Err: err}
	}
	return err
}

func (s *Service) client(ctx context.Context, id string) (registry.Descriptor, registry.Client, error) {
	d, err := s.Registry(ctx, id)
	if err != nil {
		return registry.Descriptor{}, nil, err
	}
	c, err := s.newClient(d)
	if err != nil {
		return registry.Descriptor{}, nil, err
	}
	return d, c, nil
}

// Images aggregates one registry. Summaries come back in completion order
// unless sortByName is set.
func (s *Service) Images(ctx context.Context, id string, sortByName bool) ([]aggregate.ImageSummary, error) {
	_, c, err := s.client(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithLogFields(ctx, map[string]any{"registry_id": id})

	started := s.now()
	summaries, err := s.aggregator.Aggregate(ctx, id, c)
	s.recordScan(ctx, id, started, summaries, err)
	if err != nil {
		return nil, err
	}
	if sortByName {
		aggregate.SortByName(summaries)
	}
	return summaries, nil
}

func (s *Service) recordScan(ctx context.Context, id string, started time.Time, summaries []aggregate.ImageSummary, scanErr error) {
	if s.history == nil {
		return
	}
	rec := storage.ScanRecord{
		RegistryID:   id,
		StartedAt:    started,
		DurationMs:   s.now().Sub(started).Milliseconds(),
		Repositories: len(summaries),
		Degraded:     aggregate.CountDegraded(summaries),
	}
	if scanErr != nil {
		rec.Error = scanErr.Error()
	}
	// A cancelled request must not lose the record.
	if err := s.history.RecordScan(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.WarnContext(ctx, "Failed to record scan history for %s: %v", id, err)
	}
}

// Probe tests the connection to a stored registry. The only error is an
// unknown id or an unusable descriptor; probe failures are in the report.
func (s *Service) Probe(ctx context.Context, id string) (registry.ConnectionReport, error) {
	_, c, err := s.client(ctx, id)
	if err != nil {
		return registry.ConnectionReport{}, err
	}
	return c.TestConnection(ctx), nil
}

// DeleteTag removes repository:tag from a stored registry.
func (s *Service) DeleteTag(ctx context.Context, id, repository, tag string) (digest.Digest, error) {
	if repository == "" || tag == "" {
		return "", NewBadRequestError("repository and tag are required")
	}
	_, c, err := s.client(ctx, id)
	if err != nil {
		return "", err
	}
	ctx = logging.WithLogFields(ctx, map[string]any{
		"registry_id": id,
		"repository":  repository,
		"tag":         tag,
	})

	dgst, err := c.DeleteTag(ctx, repository, tag)
	if err != nil {
		s.logger.WarnContext(ctx, "Tag deletion failed: %v", err)
		return "", err
	}
	s.logger.InfoContext(ctx, "Deleted manifest %s", dgst)

	if s.bus != nil {
		s.bus.Publish(events.New(events.EventTagDeleted, map[string]any{
			"registry_id": id,
			"repository":  repository,
			"tag":         tag,
			"digest":      dgst.String(),
		}))
	}
	return dgst, nil
}

// ScanHistory returns recent scans of a registry, most recent first.
func (s *Service) ScanHistory(ctx context.Context, id string, limit int) ([]storage.ScanRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryUnsupported
	}
	if _, err := s.Registry(ctx, id); err != nil {
		return nil, err
	}
	return s.history.GetScanHistory(ctx, id, limit)
}
