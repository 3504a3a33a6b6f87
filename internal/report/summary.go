package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/nao1215/lure/internal/database"
	"github.com/nao1215/lure/internal/model"
)

// severities lists severity levels, most severe first.
var severities = []model.Severity{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
	model.SeverityInfo,
}

// GroupRow is one aggregated group with its finding classification.
type GroupRow struct {
	database.GroupSummary

	Severity model.Severity
	Title    string
}

// Summary is the per-group view of the event store.
type Summary struct {
	GeneratedAt time.Time

	// UnreportedOnly is true when only events not yet filed with the
	// tracker were considered.
	UnreportedOnly bool

	// Rows are ordered by severity, then by event count, largest first.
	Rows []GroupRow
}

// NewSummary classifies and orders the given groups.
func NewSummary(groups []database.GroupSummary, unreportedOnly bool, now time.Time) *Summary {
	rows := make([]GroupRow, 0, len(groups))
	for _, g := range groups {
		info := model.GetFindingInfo(g.Key.Protocol, g.Key.Type)
		rows = append(rows, GroupRow{
			GroupSummary: g,
			Severity:     info.Severity,
			Title:        info.Title,
		})
	}
	slices.SortStableFunc(rows, func(a, b GroupRow) int {
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		return cmp.Compare(b.Count, a.Count)
	})

	return &Summary{
		GeneratedAt:    now,
		UnreportedOnly: unreportedOnly,
		Rows:           rows,
	}
}

// TotalEvents returns the number of events across all groups.
func (s *Summary) TotalEvents() int64 {
	var total int64
	for _, r := range s.Rows {
		total += r.Count
	}
	return total
}

// Sources returns the number of distinct source IPs.
func (s *Summary) Sources() int {
	seen := make(map[string]struct{}, len(s.Rows))
	for _, r := range s.Rows {
		seen[r.Key.SourceIP] = struct{}{}
	}
	return len(seen)
}

// GroupsBySeverity returns the rows of one severity level.
func (s *Summary) GroupsBySeverity(sev model.Severity) []GroupRow {
	var out []GroupRow
	for _, r := range s.Rows {
		if r.Severity == sev {
			out = append(out, r)
		}
	}
	return out
}

// EventsByProtocol returns event counts per protocol, in the order of
// model.Protocols. Protocols without events are omitted.
func (s *Summary) EventsByProtocol() []ProtocolCount {
	counts := make(map[model.Protocol]int64)
	for _, r := range s.Rows {
		counts[r.Key.Protocol] += r.Count
	}

	var out []ProtocolCount
	for _, p := range model.Protocols {
		if n := counts[p]; n > 0 {
			out = append(out, ProtocolCount{Protocol: p, Count: n})
		}
	}
	return out
}

// ProtocolCount is the number of events seen for one protocol.
type ProtocolCount struct {
	Protocol model.Protocol `json:"protocol"`
	Count    int64          `json:"count"`
}

// Scope describes which events the summary covers.
func (s *Summary) Scope() string {
	if s.UnreportedOnly {
		return "unreported events"
	}
	return "all events"
}
