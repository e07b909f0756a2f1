package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode(t *testing.T) {
	cases := map[string]string{
		"8.8.8.8":       "8_8_8_8",
		" edge-01 ":     "edge-01",
		"a b/c":         "a_b_c",
		"":              "",
		"already_clean": "already_clean",
	}
	for in, want := range cases {
		assert.Equal(t, want, Node(in), "Node(%q)", in)
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "gpush.icmp.edge-01.8_8_8_8.rtt_ms", Path("gpush", "icmp", "edge-01", "8.8.8.8", "rtt_ms"))
	assert.Equal(t, "icmp.sent", Path("", "icmp", " ", "sent"))
	assert.Equal(t, "", Path())
}
