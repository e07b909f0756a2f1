package graphite

import "time"

// Sample is one observation of a metric path.
type Sample struct {
	Path      string
	Timestamp int32
	Value     float64
}

// NewSample stamps a sample with the local clock.
func NewSample(path string, value float64) Sample {
	return Sample{Path: path, Timestamp: int32(time.Now().Unix()), Value: value}
}
