package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yoshihiko555/takt/internal/core"
)

var (
	lineRe = regexp.MustCompile(`\{line:(\d+)\}`)
	colRe  = regexp.MustCompile(`\{col:(\d+):([^}]+)\}`)
)

// arpeggioBatch is one slice of the data source.
type arpeggioBatch struct {
	index  int // 1-based
	rows   [][]string
	header []string
}

// executeArpeggio runs the data-driven batch variant: the CSV source is
// split into batches, one agent call per batch under a concurrency
// semaphore, and the final response is the concatenation of batch results
// in batch order.
func (e *Engine) executeArpeggio(ctx context.Context, m *core.Movement, state *core.ExecutionState) (*core.Response, error) {
	batches, err := loadBatches(m.Arpeggio)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, core.ErrExecution("ARPEGGIO_EMPTY",
			fmt.Sprintf("movement %s: data source %s has no rows", m.Name, m.Arpeggio.SourcePath))
	}

	concurrency := int64(m.Arpeggio.MaxConcurrency)
	if concurrency < 1 {
		concurrency = 2
	}
	sem := semaphore.NewWeighted(concurrency)
	responses := make([]*core.Response, len(batches))

	dir, _ := e.reportDirPath(m, state)
	base := e.promptContext(m, state, dir)

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			tmpl := m.Arpeggio.Template
			if tmpl == "" {
				tmpl = m.InstructionTemplate
			}
			prompt := renderBatch(e.builder.Substitute(tmpl, base), batch)

			resp, err := e.invoke(gctx, m, prompt, nil, false)
			if err != nil {
				if interrupted(gctx, err) {
					return err
				}
				resp = core.ErrorResponse(err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeResponses(responses, m.Arpeggio.MergeSeparator), nil
}

// loadBatches reads the CSV source and splits it into batches of the
// configured size.
func loadBatches(spec *core.ArpeggioSpec) ([]arpeggioBatch, error) {
	f, err := os.Open(spec.SourcePath)
	if err != nil {
		return nil, core.ErrNotFound("arpeggio data source", spec.SourcePath).WithCause(err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, core.ErrValidation("ARPEGGIO_PARSE",
			fmt.Sprintf("parsing %s", spec.SourcePath)).WithCause(err)
	}

	var header []string
	if spec.HasHeader && len(rows) > 0 {
		header = rows[0]
		rows = rows[1:]
	}

	size := spec.BatchSize
	if size < 1 {
		size = 1
	}
	var batches []arpeggioBatch
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batches = append(batches, arpeggioBatch{
			index:  len(batches) + 1,
			rows:   rows[start:end],
			header: header,
		})
	}
	return batches, nil
}

// renderBatch expands the batch placeholders: {batch_index}, {line:N} for
// the Nth row of the batch, and {col:N:name} for a named column of row N.
func renderBatch(tmpl string, batch arpeggioBatch) string {
	out := strings.ReplaceAll(tmpl, "{batch_index}", strconv.Itoa(batch.index))

	out = lineRe.ReplaceAllStringFunc(out, func(match string) string {
		n, _ := strconv.Atoi(lineRe.FindStringSubmatch(match)[1])
		if n < 1 || n > len(batch.rows) {
			return ""
		}
		return strings.Join(batch.rows[n-1], ",")
	})

	out = colRe.ReplaceAllStringFunc(out, func(match string) string {
		groups := colRe.FindStringSubmatch(match)
		n, _ := strconv.Atoi(groups[1])
		name := groups[2]
		if n < 1 || n > len(batch.rows) {
			return ""
		}
		for i, h := range batch.header {
			if h == name && i < len(batch.rows[n-1]) {
				return batch.rows[n-1][i]
			}
		}
		return ""
	})

	// Templates that never reference rows get the whole batch appended so
	// every call still carries its data.
	if !strings.Contains(tmpl, "{line:") && !strings.Contains(tmpl, "{col:") {
		var sb strings.Builder
		sb.WriteString(out)
		sb.WriteString("\n\n")
		for _, row := range batch.rows {
			sb.WriteString(strings.Join(row, ","))
			sb.WriteString("\n")
		}
		return sb.String()
	}
	return out
}
