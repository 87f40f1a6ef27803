package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryannaik/course-search/internal/courses"
	"github.com/aryannaik/course-search/internal/embeddings"
	"github.com/aryannaik/course-search/internal/index"
)

const base = "https://courses.example.com"

func courseBlock(title, desc, href string) string {
	var b strings.Builder
	b.WriteString(`<div class="course-block">`)
	if title != "" {
		fmt.Fprintf(&b, `<h4 class="course-title">%s</h4>`, title)
	}
	if desc != "" {
		fmt.Fprintf(&b, `<p class="course-description">%s</p>`, desc)
	}
	if href != "" {
		fmt.Fprintf(&b, `<a href="%s">View</a>`, href)
	}
	b.WriteString(`</div>`)
	return b.String()
}

var pythonAndSQL = courseBlock("Intro to Python", "Learn Python basics for data science", "/courses/intro-python") +
	courseBlock("Intro to SQL", "Learn SQL for querying databases", "/courses/intro-sql")

type staticFetcher struct {
	markup string
	err    error
	calls  int
}

func (f *staticFetcher) Fetch(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.markup, f.err
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, &embeddings.EmbeddingError{Backend: "broken", Err: errors.New("unavailable")}
}

func (brokenEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, &embeddings.EmbeddingError{Backend: "broken", Err: errors.New("unavailable")}
}

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct{ *embeddings.HashEmbedder }

func (s shortEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.HashEmbedder.EmbedBatch(ctx, texts)
	return vecs[:len(vecs)-1], err
}

func newPipeline(markup string) *Pipeline {
	return New(Options{
		Fetcher:  &staticFetcher{markup: markup},
		Embedder: embeddings.NewHashEmbedder(0),
		BaseURL:  base,
	})
}

func build(t *testing.T, p *Pipeline) BuildReport {
	t.Helper()
	report, err := p.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	return report
}

func TestSearchBeforeBuild(t *testing.T) {
	p := newPipeline(pythonAndSQL)

	assert.False(t, p.Ready())
	_, err := p.Search(context.Background(), "python", 1)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, Status{}, p.Status())
}

func TestSearchPythonForBeginners(t *testing.T) {
	p := newPipeline(pythonAndSQL)
	report := build(t, p)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, "scrape", report.Source)

	got, err := p.Search(context.Background(), "python for beginners", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, courses.Record{
		Title:       "Intro to Python",
		Description: "Learn Python basics for data science",
		URL:         base + "/courses/intro-python",
	}, got[0])

	got, err = p.Search(context.Background(), "sql databases", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Intro to SQL", got[0].Title)
}

func TestBuildSkipsMalformedBlock(t *testing.T) {
	markup := courseBlock("Intro to Python", "Learn Python basics for data science", "/courses/intro-python") +
		courseBlock("No description", "", "/courses/broken")
	p := newPipeline(markup)

	report := build(t, p)
	assert.Equal(t, 1, report.Records)
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, "description", report.Dropped[0].Field)

	got, err := p.Search(context.Background(), "anything", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Intro to Python", got[0].Title)
}

func catalogue(n int) string {
	topics := []string{"python", "sql", "statistics", "deep learning", "nlp", "computer vision", "excel", "tableau"}
	var b strings.Builder
	for i := 0; i < n; i++ {
		topic := topics[i%len(topics)]
		b.WriteString(courseBlock(
			fmt.Sprintf("Course %d", i),
			fmt.Sprintf("Learn %s with hands-on project %d", topic, i),
			fmt.Sprintf("/courses/%d", i),
		))
	}
	return b.String()
}

func TestSearchReturnsMinKAndSorted(t *testing.T) {
	const n = 12
	p := newPipeline(catalogue(n))
	build(t, p)

	for _, k := range []int{1, 3, n, n + 1, 100} {
		results, err := p.SearchScored(context.Background(), "deep learning project", k)
		require.NoError(t, err)
		assert.Len(t, results, min(k, n))

		seen := map[string]bool{}
		for i, r := range results {
			assert.False(t, seen[r.URL], "duplicate %s", r.URL)
			seen[r.URL] = true
			if i > 0 {
				assert.LessOrEqual(t, results[i-1].Distance, r.Distance)
			}
		}
	}
}

func TestSearchZeroK(t *testing.T) {
	p := newPipeline(pythonAndSQL)
	build(t, p)

	got, err := p.Search(context.Background(), "python", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = p.Search(context.Background(), "python", -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchEmptyCorpus(t *testing.T) {
	p := newPipeline("<html><body><p>No courses today</p></body></html>")
	report := build(t, p)
	assert.Zero(t, report.Records)
	assert.True(t, p.Ready())

	got, err := p.Search(context.Background(), "python", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBuildIdempotent(t *testing.T) {
	a := newPipeline(catalogue(9))
	b := newPipeline(catalogue(9))
	build(t, a)
	build(t, b)

	ra, err := a.SearchScored(context.Background(), "statistics", 5)
	require.NoError(t, err)
	rb, err := b.SearchScored(context.Background(), "statistics", 5)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestBuildOnlyOnce(t *testing.T) {
	p := newPipeline(pythonAndSQL)
	build(t, p)

	_, err := p.Build(context.Background(), BuildOptions{})
	assert.ErrorIs(t, err, ErrAlreadyBuilt)
	assert.True(t, p.Ready())
}

func TestBuildFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(Options{
		Fetcher:    courses.NewClient("", time.Second),
		Embedder:   embeddings.NewHashEmbedder(0),
		ListingURL: srv.URL,
		BaseURL:    base,
	})

	_, err := p.Build(context.Background(), BuildOptions{})

	var fe *courses.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.False(t, p.Ready())

	_, err = p.Search(context.Background(), "python", 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBuildAgainstHTTPListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + pythonAndSQL + "</body></html>"))
	}))
	defer srv.Close()

	p := New(Options{
		Fetcher:    courses.NewClient("", time.Second),
		Embedder:   embeddings.NewHashEmbedder(0),
		ListingURL: srv.URL,
		BaseURL:    base,
	})
	build(t, p)

	got, err := p.Search(context.Background(), "python for beginners", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Intro to Python", got[0].Title)
	assert.Equal(t, "Intro to SQL", got[1].Title)
}

func TestBuildEmbeddingError(t *testing.T) {
	p := New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: brokenEmbedder{},
		BaseURL:  base,
	})

	_, err := p.Build(context.Background(), BuildOptions{})

	var ee *embeddings.EmbeddingError
	require.True(t, errors.As(err, &ee))
	assert.False(t, p.Ready())
}

func TestBuildEmbeddingCountMismatch(t *testing.T) {
	p := New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: shortEmbedder{embeddings.NewHashEmbedder(8)},
		BaseURL:  base,
	})

	_, err := p.Build(context.Background(), BuildOptions{})

	var ee *embeddings.EmbeddingError
	require.True(t, errors.As(err, &ee))
	assert.False(t, p.Ready())
}

type flakyQueryEmbedder struct {
	*embeddings.HashEmbedder
}

func (flakyQueryEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, &embeddings.EmbeddingError{Backend: "flaky", Err: errors.New("timeout")}
}

func TestSearchEmbeddingError(t *testing.T) {
	p := New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: flakyQueryEmbedder{embeddings.NewHashEmbedder(8)},
		BaseURL:  base,
	})
	build(t, p)

	_, err := p.Search(context.Background(), "python", 1)
	var ee *embeddings.EmbeddingError
	require.True(t, errors.As(err, &ee))
	assert.True(t, p.Ready(), "a failed query does not affect the index")
}

func TestBuildRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	store := index.NewFileStore(t.TempDir())

	first := New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: embeddings.NewHashEmbedder(0),
		Store:    store,
		BaseURL:  base,
	})
	firstReport := build(t, first)

	fetcher := &staticFetcher{err: errors.New("offline")}
	second := New(Options{
		Fetcher:  fetcher,
		Embedder: embeddings.NewHashEmbedder(0),
		Store:    store,
		BaseURL:  base,
	})
	report := build(t, second)

	assert.Equal(t, "snapshot", report.Source)
	assert.Equal(t, firstReport.BuildID, report.BuildID)
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, "snapshot", second.Status().Source)

	want, err := first.SearchScored(ctx, "python for beginners", 2)
	require.NoError(t, err)
	got, err := second.SearchScored(ctx, "python for beginners", 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuildIgnoresSnapshotFromOtherEmbedder(t *testing.T) {
	store := index.NewFileStore(t.TempDir())

	build(t, New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: embeddings.NewHashEmbedder(64),
		Store:    store,
		BaseURL:  base,
	}))

	fetcher := &staticFetcher{markup: pythonAndSQL}
	p := New(Options{
		Fetcher:  fetcher,
		Embedder: embeddings.NewHashEmbedder(128),
		Store:    store,
		BaseURL:  base,
	})
	report := build(t, p)

	assert.Equal(t, "scrape", report.Source)
	assert.Equal(t, 1, fetcher.calls)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash:128", snap.Embedder)
	assert.Equal(t, 128, snap.Dim)
}

func TestBuildForceSkipsSnapshot(t *testing.T) {
	store := index.NewFileStore(t.TempDir())
	build(t, New(Options{
		Fetcher:  &staticFetcher{markup: pythonAndSQL},
		Embedder: embeddings.NewHashEmbedder(0),
		Store:    store,
		BaseURL:  base,
	}))

	fetcher := &staticFetcher{markup: catalogue(3)}
	p := New(Options{
		Fetcher:  fetcher,
		Embedder: embeddings.NewHashEmbedder(0),
		Store:    store,
		BaseURL:  base,
	})
	report, err := p.Build(context.Background(), BuildOptions{Force: true})
	require.NoError(t, err)

	assert.Equal(t, "scrape", report.Source)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 1, fetcher.calls)
}

func TestConcurrentSearches(t *testing.T) {
	p := newPipeline(catalogue(20))
	build(t, p)

	want, err := p.SearchScored(context.Background(), "excel", 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.SearchScored(context.Background(), "excel", 5)
			if err != nil {
				errs <- err
				return
			}
			if !assert.ObjectsAreEqual(want, got) {
				errs <- errors.New("results differ between concurrent searches")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
