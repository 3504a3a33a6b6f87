package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/lure/internal/model"
)

// JSONWriter outputs events in JSON format.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string

	// version is recorded in summaries when set.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion records the lure version in summaries.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteEvents outputs the events as a JSON array.
func (w *JSONWriter) WriteEvents(events []*model.Event) (int, error) {
	if events == nil {
		events = []*model.Event{}
	}
	return w.writeJSON(events)
}

// JSONSummary is the JSON form of a Summary.
type JSONSummary struct {
	Version        string          `json:"version,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
	UnreportedOnly bool            `json:"unreported_only"`
	TotalEvents    int64           `json:"total_events"`
	Sources        int             `json:"sources"`
	Protocols      []ProtocolCount `json:"protocols"`
	Groups         []JSONGroup     `json:"groups"`
}

// JSONGroup is the JSON form of a GroupRow.
type JSONGroup struct {
	SourceIP  string    `json:"source_ip"`
	Protocol  string    `json:"protocol"`
	EventType string    `json:"event_type"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewJSONSummary converts a Summary.
func NewJSONSummary(summary *Summary, version string) *JSONSummary {
	out := &JSONSummary{
		Version:        version,
		GeneratedAt:    summary.GeneratedAt,
		UnreportedOnly: summary.UnreportedOnly,
		TotalEvents:    summary.TotalEvents(),
		Sources:        summary.Sources(),
		Protocols:      summary.EventsByProtocol(),
		Groups:         make([]JSONGroup, 0, len(summary.Rows)),
	}
	if out.Protocols == nil {
		out.Protocols = []ProtocolCount{}
	}
	for _, r := range summary.Rows {
		out.Groups = append(out.Groups, JSONGroup{
			SourceIP:  r.Key.SourceIP,
			Protocol:  r.Key.Protocol.String(),
			EventType: r.Key.Type.String(),
			Severity:  r.Severity.TrackerName(),
			Title:     r.Title,
			Count:     r.Count,
			FirstSeen: r.FirstSeen,
			LastSeen:  r.LastSeen,
		})
	}
	return out
}

// WriteSummary outputs the summary as a JSON object.
func (w *JSONWriter) WriteSummary(summary *Summary) (int, error) {
	return w.writeJSON(NewJSONSummary(summary, w.version))
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
