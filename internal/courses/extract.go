package courses

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate the course fields inside the listing markup.
type Selectors struct {
	Block       string
	Title       string
	Description string
	Link        string
}

// DefaultSelectors matches the catalogue's course cards.
var DefaultSelectors = Selectors{
	Block:       "div.course-block",
	Title:       "h4.course-title",
	Description: "p.course-description",
	Link:        "a[href]",
}

func (s Selectors) withDefaults() Selectors {
	if s.Block == "" {
		s.Block = DefaultSelectors.Block
	}
	if s.Title == "" {
		s.Title = DefaultSelectors.Title
	}
	if s.Description == "" {
		s.Description = DefaultSelectors.Description
	}
	if s.Link == "" {
		s.Link = DefaultSelectors.Link
	}
	return s
}

// Extract parses the listing markup into records using DefaultSelectors.
func Extract(markup, baseURL string) ([]Record, []ExtractionWarning) {
	return ExtractWith(markup, baseURL, DefaultSelectors)
}

// ExtractWith partitions every candidate block into either a record or a
// warning, in document order. It never fails as a whole: a block with a
// missing or malformed field is reported and skipped.
func ExtractWith(markup, baseURL string, sel Selectors) ([]Record, []ExtractionWarning) {
	sel = sel.withDefaults()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, []ExtractionWarning{{Block: -1, Field: "document", Reason: err.Error()}}
	}

	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	var (
		records  []Record
		warnings []ExtractionWarning
	)
	doc.Find(sel.Block).Each(func(i int, block *goquery.Selection) {
		rec, warn := parseBlock(i, block, sel, base)
		if warn != nil {
			warnings = append(warnings, *warn)
			return
		}
		records = append(records, rec)
	})

	return records, warnings
}

func parseBlock(i int, block *goquery.Selection, sel Selectors, base *url.URL) (Record, *ExtractionWarning) {
	skip := func(field, reason string) (Record, *ExtractionWarning) {
		return Record{}, &ExtractionWarning{Block: i, Field: field, Reason: reason}
	}

	title, ok := firstText(block, sel.Title)
	if !ok {
		return skip("title", "missing "+sel.Title)
	}

	desc, ok := firstText(block, sel.Description)
	if !ok {
		return skip("description", "missing "+sel.Description)
	}

	href, ok := block.Find(sel.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return skip("link", "missing href")
	}

	link, err := resolveLink(base, href)
	if err != nil {
		return skip("link", err.Error())
	}

	return Record{Title: title, Description: desc, URL: link}, nil
}

// firstText returns the trimmed text of the first match, reporting false when
// there is no match or the text is blank.
func firstText(block *goquery.Selection, selector string) (string, bool) {
	node := block.Find(selector).First()
	if node.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(node.Text())
	return text, text != ""
}

func resolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if base != nil {
		return base.ResolveReference(ref).String(), nil
	}
	if !ref.IsAbs() {
		return "", &url.Error{Op: "resolve", URL: href, Err: errNoBase}
	}
	return ref.String(), nil
}

var errNoBase = errors.New("relative link without a base URL")
