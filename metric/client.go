package metric

import (
	"context"
	"strings"
	"time"
)

// Client accepts samples for asynchronous delivery to a time-series backend.
type Client interface {
	// Push records value at the current time.
	Push(path string, value float64)
	// PushAt records value at a unix timestamp in seconds.
	PushAt(path string, timestamp int32, value float64)
	// PushTime records value at t.
	PushTime(path string, t time.Time, value float64)
	// Shutdown blocks until everything pushed so far has been delivered.
	Shutdown(ctx context.Context) error
}

var nodeReplacer = strings.NewReplacer(".", "_", " ", "_", "/", "_", "\t", "_", "\n", "_")

// Node escapes s so it can be used as one component of a dotted path.
func Node(s string) string {
	return nodeReplacer.Replace(strings.TrimSpace(s))
}

// Path joins nodes into a dotted metric path, escaping each of them and
// skipping empty ones.
func Path(nodes ...string) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n = Node(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ".")
}
