// Package detector decides when a statically fetched page needs a headless render.
package detector

import (
	"bytes"
	"net/http"
)

const defaultThreshold = 2048

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	// BodyLengthThreshold is the size below which script-heavy pages are promoted.
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A threshold <= 0 uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var (
	scriptOpen  = []byte("<script")
	scriptClose = []byte("</script>")
)

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the page fetched with status and body should be
// rendered again in a browser. Only successful responses are promoted.
func (h *Heuristic) ShouldPromote(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements, tags included, cover at
// least a quarter of body.
func scriptDensityHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	covered := 0
	for rest := lower; ; {
		start := bytes.Index(rest, scriptOpen)
		if start < 0 {
			break
		}
		end := len(rest)
		if gt := bytes.IndexByte(rest[start:], '>'); gt >= 0 {
			inner := start + gt + 1
			if closeAt := bytes.Index(rest[inner:], scriptClose); closeAt >= 0 {
				end = inner + closeAt + len(scriptClose)
			}
		}
		covered += end - start
		rest = rest[end:]
	}
	return covered > 0 && covered*4 >= len(lower)
}
