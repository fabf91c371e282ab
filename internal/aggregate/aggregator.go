// Package aggregate builds per-repository image summaries for a registry by
// fanning tag and manifest fetches out over a bounded worker pool.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/registry"
)

// DefaultMaxConcurrency bounds in-flight repository tasks.
const DefaultMaxConcurrency = 8

// Source is the subset of registry.Client the aggregator reads from.
type Source interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context, repository string) ([]string, error)
	GetManifest(ctx context.Context, repository, reference string) (*registry.Manifest, error)
}

// BlobSource is implemented by sources that can fetch configuration blobs.
// When the source has it, a manifest without a created value is completed
// from its image configuration.
type BlobSource interface {
	GetBlob(ctx context.Context, repository, reference string) ([]byte, error)
}

// Recorder receives pass-level measurements. *metrics.Metrics implements it.
type Recorder interface {
	ObserveAggregate(elapsed time.Duration, repositories, degraded int)
	ObserveAggregateFailure()
	ObservePanic(component string)
}

// Aggregator turns a registry catalog into image summaries.
type Aggregator struct {
	maxConcurrency int
	bus            *events.Bus
	recorder       Recorder
	logger         *logging.Logger
	now            func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxConcurrency bounds in-flight repository tasks. n <= 0 means
// DefaultMaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrency = n
		}
	}
}

// WithEventBus publishes scan progress on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(a *Aggregator) { a.bus = bus }
}

// WithRecorder records pass metrics.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock replaces time.Now for created/lastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		maxConcurrency: DefaultMaxConcurrency,
		logger:         logging.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns exactly one summary per catalog entry, in the order the
// per-repository tasks finished. Only a catalog failure fails the call; tag
// and manifest failures become degraded summaries. registryID labels events
// and logs.
func (a *Aggregator) Aggregate(ctx context.Context, registryID string, src Source) ([]ImageSummary, error) {
	start := time.Now()
	log := a.logger.WithField("registry_id", registryID)

	repos, err := src.ListRepositories(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Catalog fetch failed: %v", err)
		a.publish(events.EventScanFailed, map[string]any{
			"registry_id": registryID,
			"error":       err.Error(),
		})
		if a.recorder != nil {
			a.recorder.ObserveAggregateFailure()
		}
		return nil, err
	}

	a.publish(events.EventScanStarted, map[string]any{
		"registry_id":  registryID,
		"repositories": len(repos),
	})

	// Each task sends exactly one summary; the buffer holds them all so no
	// task blocks on the join.
	results := make(chan ImageSummary, len(repos))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			summary := a.summarize(ctx, src, repo)
			if summary.Degraded() {
				log.WarnContext(ctx, "Repository %s degraded: %s", repo, summary.Error)
			}
			a.publish(events.EventScanRepository, map[string]any{
				"registry_id": registryID,
				"repository":  repo,
				"tags":        len(summary.Tags),
				"error":       summary.Error,
			})
			results <- summary
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	summaries := make([]ImageSummary, 0, len(repos))
	for s := range results {
		summaries = append(summaries, s)
	}

	elapsed := time.Since(start)
	failed := CountDegraded(summaries)
	if a.recorder != nil {
		a.recorder.ObserveAggregate(elapsed, len(summaries), failed)
	}
	a.publish(events.EventScanCompleted, map[string]any{
		"registry_id":  registryID,
		"repositories": len(summaries),
		"degraded":     failed,
		"duration_ms":  elapsed.Milliseconds(),
	})
	log.InfoContext(ctx, "Aggregated %d repositories (%d degraded) in %dms", len(summaries), failed, elapsed.Milliseconds())

	return summaries, nil
}

// summarize runs one repository's task. It never returns without a summary,
// including when a fetch panics; tags obtained before a panic are kept.
func (a *Aggregator) summarize(ctx context.Context, src Source, repo string) (summary ImageSummary) {
	var tags []string
	defer func() {
		if r := recover(); r != nil {
			if a.recorder != nil {
				a.recorder.ObservePanic("aggregate")
			}
			summary = degraded(repo, tags, fmt.Errorf("panic while fetching %s: %v", repo, r))
		}
	}()

	tags, err := src.ListTags(ctx, repo)
	if err != nil {
		return degraded(repo, nil, err)
	}
	if len(tags) == 0 {
		return empty(repo)
	}

	// tags[0] in registry order; the API has no recency signal to do better.
	m, err := src.GetManifest(ctx, repo, tags[0])
	if err != nil {
		return degraded(repo, tags, err)
	}
	return fromManifest(repo, tags, m, a.imageConfig(ctx, src, repo, m), a.now())
}

// imageConfig fetches the configuration blob when the manifest lacks a
// created value. Failures only cost the extra fields.
func (a *Aggregator) imageConfig(ctx context.Context, src Source, repo string, m *registry.Manifest) *registry.ImageConfig {
	blobs, ok := src.(BlobSource)
	if !ok || m.Created != "" || m.Config == nil || m.Config.Digest == "" {
		return nil
	}
	body, err := blobs.GetBlob(ctx, repo, m.Config.Digest)
	if err != nil {
		a.logger.DebugContext(ctx, "Config blob for %s unavailable: %v", repo, err)
		return nil
	}
	cfg, err := registry.DecodeImageConfig(body)
	if err != nil {
		a.logger.DebugContext(ctx, "Config blob for %s unreadable: %v", repo, err)
		return nil
	}
	return &cfg
}

func (a *Aggregator) publish(eventType string, payload map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.New(eventType, payload))
}
