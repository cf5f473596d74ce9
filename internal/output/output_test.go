package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_PlainOmitsIcons(t *testing.T) {
	// Given: a writer on a buffer, which is never a terminal
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing each kind of message
	w.Success("rebuilt libs-release")
	w.Warning("2 inconsistencies")
	w.Errorf("failed: %s", "boom")

	// Then: only the messages are written
	assert.False(t, w.Decorative())
	assert.Equal(t, "rebuilt libs-release\n2 inconsistencies\nfailed: boom\n", buf.String())
}

func TestWriter_DecorativeAddsIcons(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &Writer{out: buf, decorative: true}

	w.Success("done")
	w.Warning("careful")
	w.Error("broken")

	out := buf.String()
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "!")
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, colorGreen)
	assert.Contains(t, out, "done")
}

func TestWriter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Table([]string{"ID", "SCORE"}, [][]string{
		{"a1", "1.50"},
		{"long-identifier", "0.25"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	// columns are aligned to the widest cell
	assert.Equal(t, strings.Index(lines[1], "1.50"), strings.Index(lines[2], "0.25"))
}

func TestWriter_FieldsSorted(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Fields(map[string]string{"stored": "3", "indexed": "2"})

	out := buf.String()
	assert.Less(t, strings.Index(out, "indexed:"), strings.Index(out, "stored:"))
}

func TestWriter_ProgressPlain(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Progress(1, 2, "libs-release")
	w.Progress(2, 2, "npm-public")
	w.Progress(0, 0, "ignored")

	assert.Equal(t, "[1/2] libs-release\n[2/2] npm-public\n", buf.String())
}

func TestWriter_ProgressDecorative(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &Writer{out: buf, decorative: true}

	w.Progress(2, 2, "done")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r["))
	assert.Contains(t, out, "100%")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name           string
		current, total int
		wantFilled     int
	}{
		{"empty", 0, 10, 0},
		{"half", 5, 10, 5},
		{"full", 10, 10, 10},
		{"overflow", 20, 10, 10},
		{"no total", 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, 10)
			assert.Equal(t, tt.wantFilled, strings.Count(bar, "█"))
			assert.Equal(t, 10, len([]rune(bar)))
		})
	}
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.False(t, IsTTY(f))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
