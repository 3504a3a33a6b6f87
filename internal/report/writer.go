package report

import (
	"io"

	"github.com/nao1215/lure/internal/model"
)

// Writer renders events in one output format.
type Writer interface {
	// WriteEvents outputs individual events in the given order.
	// Returns the number of bytes written and any error encountered.
	WriteEvents(events []*model.Event) (int, error)

	// WriteSummary outputs the per-group summary.
	WriteSummary(summary *Summary) (int, error)
}

// MultiWriter writes to multiple Writers in turn.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteEvents outputs the events to all Writers. Stops on the first error.
func (m *MultiWriter) WriteEvents(events []*model.Event) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteEvents(events)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteSummary outputs the summary to all Writers. Stops on the first error.
func (m *MultiWriter) WriteSummary(summary *Summary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteSummary(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// truncateString truncates a string to maxLen bytes with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// dash replaces an empty cell.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
