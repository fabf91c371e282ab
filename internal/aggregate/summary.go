package aggregate

import (
	"sort"
	"time"

	"github.com/chis/regview/internal/registry"
)

// Metadata carries identifiers taken from the manifest and, when it was
// fetched, the image configuration.
type Metadata struct {
	Digest       string `json:"digest"`
	Architecture string `json:"architecture,omitempty"`
	OS           string `json:"os,omitempty"`
}

// ImageSummary describes one repository. A non-empty Error marks a degraded
// summary whose manifest-derived fields are zero.
type ImageSummary struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Tags        []string         `json:"tags"`
	Size        int64            `json:"size"`
	Created     string           `json:"created,omitempty"`
	LastUpdated *time.Time       `json:"lastUpdated"`
	Layers      []registry.Layer `json:"layers"`
	Metadata    *Metadata        `json:"metadata"`
	Error       string           `json:"error,omitempty"`
}

// Degraded reports whether the summary carries a fetch error.
func (s ImageSummary) Degraded() bool {
	return s.Error != ""
}

// degraded builds the summary for a repository whose tag or manifest fetch
// failed. tags is whatever was obtained before the failure.
func degraded(repository string, tags []string, err error) ImageSummary {
	if tags == nil {
		tags = []string{}
	}
	return ImageSummary{
		ID:     repository,
		Name:   repository,
		Tags:   tags,
		Layers: []registry.Layer{},
		Error:  err.Error(),
	}
}

// empty builds the summary for a repository with no tags.
func empty(repository string) ImageSummary {
	return ImageSummary{
		ID:     repository,
		Name:   repository,
		Tags:   []string{},
		Layers: []registry.Layer{},
	}
}

// fromManifest builds a full summary. cfg may be nil. created is passed
// through as the registry reported it, from the manifest first and then the
// image configuration. Registries expose no modification time, so
// lastUpdated is the fetch time, and a summary with no created value at all
// is stamped with it too.
func fromManifest(repository string, tags []string, m *registry.Manifest, cfg *registry.ImageConfig, now time.Time) ImageSummary {
	created := m.Created
	if created == "" && cfg != nil {
		created = cfg.Created
	}
	if created == "" {
		created = now.UTC().Format(time.RFC3339Nano)
	}
	lastUpdated := now

	layers := m.Layers
	if layers == nil {
		layers = []registry.Layer{}
	}

	var meta *Metadata
	if m.Config != nil {
		meta = &Metadata{Digest: m.Config.Digest}
		if cfg != nil {
			meta.Architecture = cfg.Architecture
			meta.OS = cfg.OS
		}
	}

	return ImageSummary{
		ID:          repository,
		Name:        repository,
		Tags:        tags,
		Size:        m.TotalSize(),
		Created:     created,
		LastUpdated: &lastUpdated,
		Layers:      layers,
		Metadata:    meta,
	}
}

// SortByName orders summaries by repository name in place. Aggregate returns
// completion order; callers that want a stable listing sort explicitly.
func SortByName(summaries []ImageSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
}

// CountDegraded returns how many summaries carry an error.
func CountDegraded(summaries []ImageSummary) int {
	n := 0
	for _, s := range summaries {
		if s.Degraded() {
			n++
		}
	}
	return n
}
