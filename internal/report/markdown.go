package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/lure/internal/model"
)

// MarkdownWriter outputs events in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteEvents outputs the events as a table.
func (w *MarkdownWriter) WriteEvents(events []*model.Event) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Lure Events")
	md.PlainText("")

	if len(events) == 0 {
		md.PlainText("No events recorded.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(events))
	for i, e := range events {
		rows[i] = []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.Format(timeLayout),
			e.Protocol.String(),
			e.Type.String(),
			"`" + e.SourceIP + "`",
			code(e.Username),
			code(e.Password),
			code(truncateString(e.Payload, 40)),
			reportedText(e),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Time", "Protocol", "Type", "Source", "Username", "Password", "Payload", "Reported"},
		Rows:   rows,
	})
	md.PlainText("")
	md.PlainTextf("%d event(s)", len(events))

	return len(md.String()), md.Build()
}

// WriteSummary outputs the summary with a table per severity level.
func (w *MarkdownWriter) WriteSummary(summary *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeSeverities(md, summary)
	w.writeGroups(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the summary header.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *Summary) {
	md.H1("Lure Event Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", summary.GeneratedAt.Format(timeLayout)},
			{"Scope", summary.Scope()},
			{"Events", strconv.FormatInt(summary.TotalEvents(), 10)},
			{"Groups", strconv.Itoa(len(summary.Rows))},
			{"Sources", strconv.Itoa(summary.Sources())},
		},
	})
	md.PlainText("")
}

// writeSeverities writes group counts per severity, the protocol chart and
// an alert matching the most severe group.
func (w *MarkdownWriter) writeSeverities(md *markdown.Markdown, summary *Summary) {
	md.H2("Severity Summary")
	md.PlainText("")

	counts := make(map[model.Severity]int, len(severities))
	for _, sev := range severities {
		counts[sev] = len(summary.GroupsBySeverity(sev))
	}

	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Groups"},
		Rows: [][]string{
			{"🔴 Critical", strconv.Itoa(counts[model.SeverityCritical])},
			{"🟠 High", strconv.Itoa(counts[model.SeverityHigh])},
			{"🟡 Medium", strconv.Itoa(counts[model.SeverityMedium])},
			{"🔵 Low", strconv.Itoa(counts[model.SeverityLow])},
			{"⚪ Info", strconv.Itoa(counts[model.SeverityInfo])},
			{"**Total**", "**" + strconv.Itoa(len(summary.Rows)) + "**"},
		},
	})
	md.PlainText("")

	if protocols := summary.EventsByProtocol(); len(protocols) > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Events by Protocol"),
			piechart.WithShowData(true),
		)
		for _, pc := range protocols {
			chart.LabelAndIntValue(pc.Protocol.String(), uint64(pc.Count))
		}
		md.PlainText("")
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case counts[model.SeverityCritical] > 0:
		md.Cautionf("%d group(s) of critical activity recorded.", counts[model.SeverityCritical])
	case counts[model.SeverityHigh] > 0:
		md.Warningf("Credential guessing against remote-access services from %d group(s).", counts[model.SeverityHigh])
	case counts[model.SeverityMedium] > 0:
		md.Importantf("%d group(s) of interactive activity recorded.", counts[model.SeverityMedium])
	case len(summary.Rows) > 0:
		md.Note("Only reconnaissance and plain connections recorded.")
	default:
		md.Tip("No activity recorded.")
	}
	md.PlainText("")
}

// writeGroups writes a table of groups for each severity level.
func (w *MarkdownWriter) writeGroups(md *markdown.Markdown, summary *Summary) {
	md.H2("Groups")
	md.PlainText("")

	if len(summary.Rows) == 0 {
		md.PlainText("No events recorded.")
		md.PlainText("")
		return
	}

	headers := []struct {
		level  model.Severity
		header string
	}{
		{model.SeverityCritical, "🔴 Critical"},
		{model.SeverityHigh, "🟠 High"},
		{model.SeverityMedium, "🟡 Medium"},
		{model.SeverityLow, "🔵 Low"},
		{model.SeverityInfo, "⚪ Info"},
	}

	for _, h := range headers {
		rows := summary.GroupsBySeverity(h.level)
		if len(rows) == 0 {
			continue
		}

		md.H3(h.header)
		md.PlainText("")

		table := make([][]string, len(rows))
		for i, r := range rows {
			table[i] = []string{
				r.Title,
				"`" + r.Key.SourceIP + "`",
				r.Key.Protocol.String() + "/" + r.Key.Type.String(),
				strconv.FormatInt(r.Count, 10),
				r.FirstSeen.Format(timeLayout),
				r.LastSeen.Format(timeLayout),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Finding", "Source", "Activity", "Events", "First seen", "Last seen"},
			Rows:   table,
		})
		md.PlainText("")
	}
}

// writeFooter writes the summary footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by [lure](https://github.com/nao1215/lure)*")
}

// code wraps a non-empty value in backticks.
func code(s string) string {
	if s == "" {
		return "-"
	}
	return "`" + s + "`"
}
