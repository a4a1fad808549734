package tasks

import (
	"bytes"
	"hash/fnv"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// prefixPalette holds the colors assigned to task prefixes. The color for a
// name is deterministic so the same task keeps the same color across runs.
var prefixPalette = []lipgloss.Color{
	lipgloss.Color("12"), // blue
	lipgloss.Color("10"), // green
	lipgloss.Color("11"), // yellow
	lipgloss.Color("13"), // magenta
	lipgloss.Color("14"), // cyan
	lipgloss.Color("9"),  // red
}

// PrefixWriter prepends a colored [task-name] prefix to every line written
// through it. Writes are line-buffered so lines from concurrent workers
// never interleave mid-line.
type PrefixWriter struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
	buf    bytes.Buffer
}

// NewPrefixWriter creates a prefix writer for a task name. With colored
// false the prefix is plain text.
func NewPrefixWriter(out io.Writer, name string, colored bool) *PrefixWriter {
	prefix := "[" + name + "] "
	if colored {
		style := lipgloss.NewStyle().Foreground(colorFor(name))
		prefix = style.Render("["+name+"]") + " "
	}
	return &PrefixWriter{out: out, prefix: prefix}
}

// colorFor picks a deterministic palette color for a name.
func colorFor(name string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return prefixPalette[h.Sum32()%uint32(len(prefixPalette))]
}

// Write implements io.Writer.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line stays buffered until its newline arrives.
			w.buf.Write(line)
			break
		}
		if _, err := io.WriteString(w.out, w.prefix+string(line)); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line.
func (w *PrefixWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(w.out, w.prefix+w.buf.String()+"\n")
	w.buf.Reset()
	return err
}
