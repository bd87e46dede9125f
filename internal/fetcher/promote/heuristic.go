package promote

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/web-researcher/internal/crawler"
)

const defaultBodyThreshold = 2048

// Heuristic flags HTML responses that look client-rendered: empty bodies,
// single-page-app mount points, or small pages dominated by script.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic returns a Heuristic; threshold <= 0 selects 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

// ShouldPromote reports whether res should be re-fetched in a browser.
func (h *Heuristic) ShouldPromote(res crawler.FetchResult) bool {
	if !res.OK() {
		return false
	}
	switch res.ContentType() {
	case "", "text/html", "application/xhtml+xml":
	default:
		return false
	}
	body := res.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// An unterminated element runs to the end of the body.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	for pos := 0; pos < total; {
		rel := strings.Index(lower[pos:], "<script")
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt >= 0 {
			contentStart := start + gt + 1
			if closeRel := strings.Index(lower[contentStart:], "</script>"); closeRel >= 0 {
				end = contentStart + closeRel + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
