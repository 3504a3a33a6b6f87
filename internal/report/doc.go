// Package report renders stored honeypot events for operators.
//
// This package contains writers for different output formats:
//   - SimpleWriter: aligned plain text for terminal display
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: Markdown for sharing in tickets and chat
//
// Writers render two views: a list of individual events and a Summary of
// the (source IP, protocol, event type) groups the reporting loop files
// findings for.
package report
