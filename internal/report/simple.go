package report

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nao1215/lure/internal/model"
)

const (
	timeLayout   = "2006-01-02 15:04:05 MST"
	ruleWidth    = 70
	payloadWidth = 60
)

// SimpleWriter outputs human-readable text for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether severity levels with no groups are shown.
	showEmpty bool

	// verbose adds payloads and raw protocol data to event listings.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteEvents outputs one line per event.
func (w *SimpleWriter) WriteEvents(events []*model.Event) (int, error) {
	var sb strings.Builder

	if len(events) == 0 {
		sb.WriteString("No events recorded.\n")
		return io.WriteString(w.output, sb.String())
	}

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tPROTOCOL\tTYPE\tSOURCE\tPORT\tUSERNAME\tPASSWORD\tREPORTED")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Format(timeLayout),
			e.Protocol,
			e.Type,
			net.JoinHostPort(e.SourceIP, strconv.Itoa(e.SourcePort)),
			e.DestPort,
			dash(e.Username),
			dash(e.Password),
			reportedText(e),
		)
		if w.verbose {
			if e.Payload != "" {
				fmt.Fprintf(tw, "\t  payload: %s\n", truncateString(e.Payload, payloadWidth))
			}
			if e.UserAgent != "" {
				fmt.Fprintf(tw, "\t  user agent: %s\n", e.UserAgent)
			}
			if len(e.RawData) > 0 {
				raw, err := e.RawJSON()
				if err == nil {
					fmt.Fprintf(tw, "\t  raw: %s\n", truncateString(string(raw), 2*payloadWidth))
				}
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}

	fmt.Fprintf(&sb, "\n%d event(s)\n", len(events))
	return io.WriteString(w.output, sb.String())
}

// WriteSummary outputs the summary with groups listed by severity.
func (w *SimpleWriter) WriteSummary(summary *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeSeverities(&sb, summary)
	w.writeGroups(&sb, summary)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

// writeHeader writes the summary header.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("                       LURE EVENT SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Generated:  %s\n", summary.GeneratedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Scope:      %s\n", summary.Scope())
	fmt.Fprintf(sb, "Events:     %d\n", summary.TotalEvents())
	fmt.Fprintf(sb, "Groups:     %d\n", len(summary.Rows))
	fmt.Fprintf(sb, "Sources:    %d\n", summary.Sources())
	sb.WriteString("\n")
}

// writeSeverities writes the number of groups per severity level.
func (w *SimpleWriter) writeSeverities(sb *strings.Builder, summary *Summary) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("SEVERITY SUMMARY\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")

	for _, sev := range severities {
		fmt.Fprintf(sb, "  %-9s %d\n", sev.String()+":", len(summary.GroupsBySeverity(sev)))
	}
	sb.WriteString("\n")
}

// writeGroups writes the groups of each severity level.
func (w *SimpleWriter) writeGroups(sb *strings.Builder, summary *Summary) {
	if len(summary.Rows) == 0 && !w.showEmpty {
		sb.WriteString("  No events recorded\n\n")
		return
	}

	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("GROUPS\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")

	for _, sev := range severities {
		rows := summary.GroupsBySeverity(sev)
		if len(rows) == 0 && !w.showEmpty {
			continue
		}

		fmt.Fprintf(sb, "[%s] %s\n", severityIndicator(sev), sev)
		if len(rows) == 0 {
			sb.WriteString("  No groups\n\n")
			continue
		}
		for _, r := range rows {
			fmt.Fprintf(sb, "  * %s from %s\n", r.Title, r.Key.SourceIP)
			fmt.Fprintf(sb, "    Events: %d (%s/%s)\n", r.Count, r.Key.Protocol, r.Key.Type)
			fmt.Fprintf(sb, "    Seen:   %s .. %s\n", r.FirstSeen.Format(timeLayout), r.LastSeen.Format(timeLayout))
		}
		sb.WriteString("\n")
	}
}

// severityIndicator returns a visual indicator for the severity level.
func severityIndicator(severity model.Severity) string {
	switch severity {
	case model.SeverityCritical:
		return "!!!"
	case model.SeverityHigh:
		return "!!"
	case model.SeverityMedium:
		return "!"
	case model.SeverityLow:
		return "-"
	case model.SeverityInfo:
		return "i"
	default:
		return "?"
	}
}

// writeFooter writes the summary footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
}

// reportedText describes the tracker state of an event.
func reportedText(e *model.Event) string {
	if !e.Reported {
		return "no"
	}
	if e.TrackerFindingID != nil {
		return "#" + strconv.FormatInt(*e.TrackerFindingID, 10)
	}
	return "yes"
}
