package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aryannaik/course-search/internal/courses"
	"github.com/aryannaik/course-search/internal/embeddings"
	"github.com/aryannaik/course-search/internal/index"
	"github.com/aryannaik/course-search/internal/metrics"
)

var (
	// ErrNotReady is returned by searches issued before a build succeeded.
	ErrNotReady = errors.New("search: index not built")
	// ErrAlreadyBuilt is returned when Build is called on a ready pipeline.
	ErrAlreadyBuilt = errors.New("search: index already built")
)

// Fetcher retrieves the raw listing markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Options wires a Pipeline to its collaborators.
type Options struct {
	Fetcher    Fetcher
	Embedder   embeddings.Embedder
	Index      index.VectorIndex   // defaults to an L2 Flat index
	Store      index.SnapshotStore // optional build cache
	Metrics    *metrics.Metrics    // optional
	ListingURL string
	BaseURL    string
	Selectors  courses.Selectors
}

// BuildOptions controls a single build.
type BuildOptions struct {
	// Force skips the snapshot store and scrapes afresh.
	Force bool
}

// BuildReport summarizes a successful build.
type BuildReport struct {
	BuildID  string
	Source   string // "scrape" or "snapshot"
	Records  int
	Dropped  []courses.ExtractionWarning
	Duration time.Duration
}

// Result is a matched course with its distance to the query.
type Result struct {
	courses.Record
	Distance float64 `json:"distance"`
}

// Status describes the pipeline for status endpoints.
type Status struct {
	Ready   bool      `json:"ready"`
	Records int       `json:"records"`
	BuildID string    `json:"buildId,omitempty"`
	BuiltAt time.Time `json:"builtAt"`
	Source  string    `json:"source,omitempty"`
}

// corpus is the immutable output of a build.
type corpus struct {
	records []courses.Record
	idx     index.VectorIndex
	buildID string
	builtAt time.Time
	source  string
}

// Pipeline scrapes, embeds and indexes the course catalogue once, then
// answers queries against it. It starts Unbuilt and becomes Ready after the
// first successful Build; there is no way back.
type Pipeline struct {
	fetcher    Fetcher
	embedder   embeddings.Embedder
	idx        index.VectorIndex
	store      index.SnapshotStore
	metrics    *metrics.Metrics
	listingURL string
	baseURL    string
	selectors  courses.Selectors

	buildMu sync.Mutex
	ready   atomic.Pointer[corpus]
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:    opts.Fetcher,
		embedder:   opts.Embedder,
		idx:        opts.Index,
		store:      opts.Store,
		metrics:    opts.Metrics,
		listingURL: opts.ListingURL,
		baseURL:    opts.BaseURL,
		selectors:  opts.Selectors,
	}
	if p.idx == nil {
		p.idx = index.NewFlat(index.L2)
	}
	if p.metrics == nil {
		p.metrics = metrics.New(nil)
	}
	if p.listingURL == "" {
		p.listingURL = courses.DefaultListingURL
	}
	if p.baseURL == "" {
		p.baseURL = courses.DefaultBaseURL
	}
	return p
}

// Ready reports whether Build has completed.
func (p *Pipeline) Ready() bool {
	return p.ready.Load() != nil
}

func (p *Pipeline) Status() Status {
	c := p.ready.Load()
	if c == nil {
		return Status{}
	}
	return Status{
		Ready:   true,
		Records: len(c.records),
		BuildID: c.buildID,
		BuiltAt: c.builtAt,
		Source:  c.source,
	}
}

// Build runs fetch, extract, embed and index, or restores a compatible
// snapshot. On any error the pipeline stays Unbuilt; nothing partial is
// served.
func (p *Pipeline) Build(ctx context.Context, opts BuildOptions) (BuildReport, error) {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	if p.Ready() {
		return BuildReport{}, ErrAlreadyBuilt
	}

	start := time.Now()
	c, report, err := p.build(ctx, opts)
	if err != nil {
		p.metrics.BuildErrors.Inc()
		return BuildReport{}, err
	}

	report.Duration = time.Since(start)
	p.metrics.BuildDuration.Observe(report.Duration.Seconds())
	p.metrics.CoursesIndexed.Set(float64(len(c.records)))

	p.ready.Store(c)
	log.Info().
		Str("build_id", c.buildID).
		Str("source", c.source).
		Int("courses", len(c.records)).
		Dur("took", report.Duration).
		Msg("Index ready")

	return report, nil
}

func (p *Pipeline) build(ctx context.Context, opts BuildOptions) (*corpus, BuildReport, error) {
	if p.store != nil && !opts.Force {
		if c, ok := p.restore(ctx); ok {
			p.metrics.SnapshotLoads.Inc()
			return c, BuildReport{BuildID: c.buildID, Source: c.source, Records: len(c.records)}, nil
		}
	}

	log.Info().Str("url", p.listingURL).Msg("Fetching courses")
	markup, err := p.fetcher.Fetch(ctx, p.listingURL)
	if err != nil {
		return nil, BuildReport{}, fmt.Errorf("fetch listing: %w", err)
	}

	records, dropped := courses.ExtractWith(markup, p.baseURL, p.selectors)
	for _, w := range dropped {
		log.Warn().Int("block", w.Block).Str("field", w.Field).Msgf("Skipping course: %s", w.Reason)
	}
	p.metrics.BlocksDropped.Add(float64(len(dropped)))
	log.Info().Msgf("Fetched %d courses (%d skipped)", len(records), len(dropped))
	if len(records) == 0 {
		log.Warn().Msg("No courses found; the index will be empty")
	}

	vecs, err := p.embedRecords(ctx, records)
	if err != nil {
		return nil, BuildReport{}, err
	}

	if err := p.idx.Build(vecs); err != nil {
		return nil, BuildReport{}, fmt.Errorf("build index: %w", err)
	}

	c := &corpus{
		records: records,
		idx:     p.idx,
		buildID: uuid.NewString(),
		builtAt: time.Now().UTC(),
		source:  "scrape",
	}
	p.persist(ctx, c, vecs)

	return c, BuildReport{BuildID: c.buildID, Source: c.source, Records: len(records), Dropped: dropped}, nil
}

// embedRecords embeds course descriptions, the same text the index is
// searched against.
func (p *Pipeline) embedRecords(ctx context.Context, records []courses.Record) ([][]float32, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Description
	}

	log.Info().Msgf("Embedding %d courses...", len(texts))
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed courses: %w", err)
	}
	if len(vecs) != len(records) {
		return nil, &embeddings.EmbeddingError{
			Backend: embeddings.Fingerprint(p.embedder),
			Err:     fmt.Errorf("got %d embeddings for %d courses", len(vecs), len(records)),
		}
	}
	return vecs, nil
}

// restore loads a snapshot produced by the same embedder. Any problem with
// the cache falls back to a fresh scrape.
func (p *Pipeline) restore(ctx context.Context) (*corpus, bool) {
	snap, err := p.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load saved index, rebuilding")
		return nil, false
	}
	if snap == nil {
		return nil, false
	}

	want := embeddings.Fingerprint(p.embedder)
	if snap.Embedder != want {
		log.Info().Str("saved", snap.Embedder).Str("current", want).Msg("Saved index uses a different embedder, rebuilding")
		return nil, false
	}

	if err := p.idx.Build(snap.Vectors()); err != nil {
		log.Warn().Err(err).Msg("Saved index is inconsistent, rebuilding")
		return nil, false
	}

	return &corpus{
		records: snap.Records(),
		idx:     p.idx,
		buildID: snap.BuildID,
		builtAt: snap.BuiltAt,
		source:  "snapshot",
	}, true
}

func (p *Pipeline) persist(ctx context.Context, c *corpus, vecs [][]float32) {
	if p.store == nil {
		return
	}

	snap := &index.Snapshot{
		BuildID:  c.buildID,
		BuiltAt:  c.builtAt,
		Embedder: embeddings.Fingerprint(p.embedder),
		Entries:  make([]index.Entry, len(c.records)),
	}
	for i, r := range c.records {
		snap.Entries[i] = index.Entry{Record: r, Embedding: vecs[i]}
	}
	if len(vecs) > 0 {
		snap.Dim = len(vecs[0])
	}

	if err := p.store.Save(ctx, snap); err != nil {
		log.Error().Err(err).Msg("Error saving index")
		return
	}
	log.Info().Msgf("Index saved: %d total entries", len(snap.Entries))
}

// Search returns up to k courses closest to query.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]courses.Record, error) {
	results, err := p.SearchScored(ctx, query, k)
	if err != nil {
		return nil, err
	}
	records := make([]courses.Record, len(results))
	for i, r := range results {
		records[i] = r.Record
	}
	return records, nil
}

// SearchScored is Search with distances. k <= 0 and an empty corpus both
// yield an empty result; k larger than the corpus is clamped.
func (p *Pipeline) SearchScored(ctx context.Context, query string, k int) ([]Result, error) {
	start := time.Now()
	p.metrics.SearchRequests.Inc()

	c := p.ready.Load()
	if c == nil {
		p.metrics.SearchErrors.WithLabelValues("not_ready").Inc()
		return nil, ErrNotReady
	}

	if k <= 0 || len(c.records) == 0 {
		p.metrics.SearchResults.Observe(0)
		return []Result{}, nil
	}

	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		p.metrics.SearchErrors.WithLabelValues("embedding").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := c.idx.Query(vec, k)
	if err != nil {
		p.metrics.SearchErrors.WithLabelValues("index").Inc()
		return nil, fmt.Errorf("query index: %w", err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Record: c.records[h.Position], Distance: h.Distance}
	}

	p.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	p.metrics.SearchResults.Observe(float64(len(results)))
	return results, nil
}
