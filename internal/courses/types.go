package courses

import "fmt"

// Record is one course listing scraped from the catalogue page.
type Record struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// FetchError reports a failed listing fetch. Either Err is set (transport
// failure) or StatusCode holds the non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionWarning describes a course block that was skipped.
type ExtractionWarning struct {
	Block  int    // zero-based position among candidate blocks
	Field  string // title, description or link
	Reason string
}

func (w ExtractionWarning) Error() string {
	return fmt.Sprintf("course block %d: %s: %s", w.Block, w.Field, w.Reason)
}
