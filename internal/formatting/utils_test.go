package formatting

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrettyJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"object", map[string]any{"name": "test", "value": 42}, "{\n  \"name\": \"test\",\n  \"value\": 42\n}"},
		{"array", []string{"a", "b"}, "[\n  \"a\",\n  \"b\"\n]"},
		{"nil", nil, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PrettyJSON(tt.input))
		})
	}
}

func TestPrettyJSON_FallsBackForUnmarshallable(t *testing.T) {
	assert.NotEmpty(t, PrettyJSON(make(chan int)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "two lines", Truncate("two\nlines", 20))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", Since(time.Time{}, now))
	assert.Equal(t, "30s ago", Since(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", Since(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", Since(now.Add(-3*time.Hour), now))
	assert.Equal(t, "in 29d", Since(now.Add(29*24*time.Hour), now))
}

func TestNewTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "NAME")
	tbl.AppendRow([]any{"google", "Google"})
	tbl.Render()

	assert.Contains(t, buf.String(), "google")
	assert.Contains(t, buf.String(), "Google")
}

func TestEmpty(t *testing.T) {
	var buf bytes.Buffer
	Empty(&buf, "No messages")
	assert.Contains(t, buf.String(), "No messages")
}
