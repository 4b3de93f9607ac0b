// Package collect fans a keyword search out to every configured source.
package collect

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/pulse/schedule"
)

// Source searches one site for posts matching a keyword
type Source interface {
	Name() string
	Search(ctx context.Context, keyword string) ([]schedule.Post, error)
}

// Multi implements schedule.Collector over several sources. A failing
// source is logged and skipped; the collection only fails when every source
// does.
type Multi struct {
	sources []Source
	logger  *zap.SugaredLogger
}

// NewMulti creates a collector over sources, queried concurrently
func NewMulti(logger *zap.SugaredLogger, sources ...Source) *Multi {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Multi{sources: sources, logger: logger.Named("collect")}
}

// Sources lists the configured source names
func (m *Multi) Sources() []string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return names
}

type sourceResult struct {
	posts []schedule.Post
	err   error
}

// Collect queries every source and merges the posts, dropping duplicate URLs.
// Results keep source order so footnote numbering is stable.
func (m *Multi) Collect(ctx context.Context, keyword string) ([]schedule.Post, error) {
	if len(m.sources) == 0 {
		return nil, errors.New("no collection sources configured")
	}

	results := make([]sourceResult, len(m.sources))
	var wg sync.WaitGroup
	for i, src := range m.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			posts, err := src.Search(ctx, keyword)
			results[i] = sourceResult{posts: posts, err: err}
		}(i, src)
	}
	wg.Wait()

	var (
		merged []schedule.Post
		failed []string
		errs   error
	)
	seen := map[string]bool{}
	for i, r := range results {
		name := m.sources[i].Name()
		if r.err != nil {
			m.logger.Warnw("source failed", "source", name, "keyword", keyword, "error", r.err)
			failed = append(failed, name)
			errs = errors.CombineErrors(errs, errors.Wrapf(r.err, "%s", name))
			continue
		}
		for _, p := range r.posts {
			if p.URL != "" {
				key := strings.ToLower(strings.TrimSuffix(p.URL, "/"))
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			if p.SourceLabel == "" {
				p.SourceLabel = name
			}
			merged = append(merged, p)
		}
		m.logger.Debugw("source collected", "source", name, "keyword", keyword, "posts", len(r.posts))
	}

	if len(failed) == len(m.sources) {
		return nil, errors.Wrapf(errs, "all sources failed for %q", keyword)
	}
	return merged, nil
}
