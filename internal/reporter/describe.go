package reporter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// maxPreviewLength truncates long payload samples.
const maxPreviewLength = 200

// FindingName returns the tracker title of a group.
func FindingName(key model.GroupKey) string {
	info := model.GetFindingInfo(key.Protocol, key.Type)
	return fmt.Sprintf("%s from %s", info.Title, key.SourceIP)
}

// Describe renders the Markdown description of a group's finding.
// Usernames, passwords, payloads and user agents are each capped at
// previewLimit distinct values.
func Describe(g *Group, previewLimit int) (string, error) {
	info := model.GetFindingInfo(g.Key.Protocol, g.Key.Type)

	var sb strings.Builder
	md := markdown.NewMarkdown(&sb)

	md.H2("Honeypot activity")
	md.PlainText("")
	md.PlainText(info.Impact)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Source IP", "`" + g.Key.SourceIP + "`"},
			{"Protocol", g.Key.Protocol.String()},
			{"Event type", g.Key.Type.String()},
			{"Severity", info.Severity.String()},
			{"Events", strconv.Itoa(len(g.Events))},
			{"Connections", strconv.Itoa(g.Sessions())},
			{"First seen", g.FirstSeen().UTC().Format("2006-01-02 15:04:05 MST")},
			{"Last seen", g.LastSeen().UTC().Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")

	writePreview(md, "Usernames", g.Events, previewLimit, func(e *model.Event) string { return e.Username })
	writePreview(md, "Passwords", g.Events, previewLimit, func(e *model.Event) string { return e.Password })
	writePreview(md, "User agents", g.Events, previewLimit, func(e *model.Event) string { return e.UserAgent })

	payloads, total := distinct(g.Events, previewLimit, func(e *model.Event) string {
		return truncate(wire.Printable(e.Payload), maxPreviewLength)
	})
	if total > 0 {
		md.H3(fmt.Sprintf("Sample payloads (%d distinct)", total))
		md.PlainText("")
		md.CodeBlocks(markdown.SyntaxHighlight("text"), strings.Join(payloads, "\n"))
		md.PlainText("")
	}

	if err := md.Build(); err != nil {
		return "", fmt.Errorf("failed to render finding description: %w", err)
	}
	return sb.String(), nil
}

func writePreview(md *markdown.Markdown, title string, events []*model.Event, limit int, field func(*model.Event) string) {
	values, total := distinct(events, limit, field)
	if total == 0 {
		return
	}

	md.H3(fmt.Sprintf("%s (%d distinct)", title, total))
	md.PlainText("")
	items := make([]string, 0, len(values)+1)
	for _, v := range values {
		items = append(items, "`"+strings.ReplaceAll(v, "`", "'")+"`")
	}
	if total > len(values) {
		items = append(items, fmt.Sprintf("... and %d more", total-len(values)))
	}
	md.BulletList(items...)
	md.PlainText("")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
