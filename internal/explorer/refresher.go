package explorer

import (
	"context"
	"sync"
	"time"

	"github.com/chis/regview/internal/aggregate"
	"github.com/chis/regview/internal/registry"
)

// CachedScan is the latest background scan of one registry.
type CachedScan struct {
	Summaries []aggregate.ImageSummary `json:"summaries"`
	ScannedAt time.Time                `json:"scanned_at"`
	Error     string                   `json:"error,omitempty"`
}

// Refresher scans every stored registry on an interval and keeps the latest
// result per registry.
type Refresher struct {
	service  *Service
	interval time.Duration

	stopChan  chan struct{}
	done      sync.WaitGroup
	runningMu sync.Mutex
	running   bool

	mu       sync.RWMutex
	results  map[string]CachedScan
	scanning bool
	lastRun  time.Time
}

// NewRefresher creates a refresher. It does nothing until Start.
func NewRefresher(service *Service, interval time.Duration) *Refresher {
	return &Refresher{
		service:  service,
		interval: interval,
		stopChan: make(chan struct{}),
		results:  make(map[string]CachedScan),
	}
}

// Start runs an immediate scan and then one per interval.
func (r *Refresher) Start() {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	if r.running || r.interval <= 0 {
		return
	}
	r.running = true

	r.service.logger.Info("Background refresh every %v", r.interval)

	r.done.Add(1)
	go r.loop()
}

// Stop ends the loop and waits for an in-flight scan to finish. A stopped
// Refresher cannot be restarted.
func (r *Refresher) Stop() {
	r.runningMu.Lock()
	if !r.running {
		r.runningMu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.runningMu.Unlock()

	r.done.Wait()
}

func (r *Refresher) loop() {
	defer r.done.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopChan
		cancel()
	}()

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce scans every registry sequentially. A run already in progress makes
// it return immediately.
func (r *Refresher) RunOnce(ctx context.Context) {
	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		r.service.logger.Debug("Background refresh already in progress, skipping")
		return
	}
	r.scanning = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.scanning = false
		r.lastRun = r.service.now()
		r.mu.Unlock()
	}()

	list, err := r.service.profiles.List(ctx)
	if err != nil {
		r.service.logger.Error("Background refresh could not list registries: %v", err)
		return
	}

	r.mu.Lock()
	for id := range r.results {
		if !containsID(list, id) {
			delete(r.results, id)
		}
	}
	r.mu.Unlock()

	for _, d := range list {
		if ctx.Err() != nil {
			return
		}
		summaries, err := r.service.Images(ctx, d.ID, true)
		entry := CachedScan{Summaries: summaries, ScannedAt: r.service.now()}
		if err != nil {
			entry.Error = err.Error()
		}
		r.mu.Lock()
		r.results[d.ID] = entry
		r.mu.Unlock()
	}
}

func containsID(list []registry.Descriptor, id string) bool {
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Latest returns the cached scan for id.
func (r *Refresher) Latest(id string) (CachedScan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.results[id]
	return entry, ok
}

// Status reports whether a scan is running and when the last one ended.
func (r *Refresher) Status() (scanning bool, lastRun time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scanning, r.lastRun
}
