package model

// Severity represents the risk level of a finding forwarded to the tracker.
type Severity int

const (
	// SeverityInfo is used for combinations with no mapping, such as plain
	// connections. They are still reported so the tracker sees the source.
	SeverityInfo Severity = iota

	// SeverityLow covers reconnaissance: probes, handshakes, negotiations.
	SeverityLow

	// SeverityMedium covers interactive activity such as FTP commands and
	// credentials submitted to the web login form.
	SeverityMedium

	// SeverityHigh covers credential guessing against remote-access services.
	SeverityHigh

	// SeverityCritical is not produced by the default mapping. It exists so
	// the tracker vocabulary is complete.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// TrackerName returns the severity name used by the vulnerability tracker.
func (s Severity) TrackerName() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "informational"
	}
}

// FindingInfo describes how a (protocol, event type) pair is presented
// to the tracker.
type FindingInfo struct {
	Severity Severity
	Title    string
	Impact   string
}

// findingInfoMapping is the fixed severity table. Pairs not listed here
// fall back to SeverityInfo.
var findingInfoMapping = map[GroupKey]FindingInfo{
	{Protocol: ProtocolSSH, Type: EventAuthAttempt}: {
		Severity: SeverityHigh,
		Title:    "SSH credential brute force",
		Impact:   "The source attempted password logins against an SSH service.",
	},
	{Protocol: ProtocolTelnet, Type: EventAuthAttempt}: {
		Severity: SeverityHigh,
		Title:    "Telnet credential brute force",
		Impact:   "The source attempted logins against a Telnet service, typical of IoT botnets.",
	},
	{Protocol: ProtocolRDP, Type: EventAuthAttempt}: {
		Severity: SeverityHigh,
		Title:    "RDP login attempt",
		Impact:   "The source announced a username in an RDP connection request.",
	},
	{Protocol: ProtocolSMB, Type: EventAuthAttempt}: {
		Severity: SeverityHigh,
		Title:    "SMB NTLM authentication attempt",
		Impact:   "The source sent NTLM credentials to an SMB service.",
	},
	{Protocol: ProtocolFTP, Type: EventAuthAttempt}: {
		Severity: SeverityMedium,
		Title:    "FTP credential brute force",
		Impact:   "The source attempted logins against an FTP service.",
	},
	{Protocol: ProtocolHTTP, Type: EventAuthAttempt}: {
		Severity: SeverityMedium,
		Title:    "Web admin login attempt",
		Impact:   "The source submitted credentials to a web administration login form.",
	},
	{Protocol: ProtocolFTP, Type: EventCommand}: {
		Severity: SeverityMedium,
		Title:    "FTP command activity",
		Impact:   "The source issued FTP commands.",
	},
	{Protocol: ProtocolHTTP, Type: EventProbe}: {
		Severity: SeverityLow,
		Title:    "Web path probing",
		Impact:   "The source requested unexpected paths, typical of vulnerability scanners.",
	},
	{Protocol: ProtocolSMB, Type: EventNegotiate}: {
		Severity: SeverityLow,
		Title:    "SMB dialect negotiation",
		Impact:   "The source negotiated an SMB session.",
	},
	{Protocol: ProtocolSMB, Type: EventPayload}: {
		Severity: SeverityLow,
		Title:    "SMB session setup payload",
		Impact:   "The source continued an SMB exchange past negotiation.",
	},
	{Protocol: ProtocolRDP, Type: EventHandshake}: {
		Severity: SeverityLow,
		Title:    "RDP connection request",
		Impact:   "The source opened an RDP connection sequence.",
	},
	{Protocol: ProtocolRDP, Type: EventPayload}: {
		Severity: SeverityLow,
		Title:    "RDP handshake payload",
		Impact:   "The source continued an RDP handshake past the connection confirm.",
	},
}

// GetSeverity returns the severity for a (protocol, event type) pair.
// Returns SeverityInfo if the pair is not in the mapping.
func GetSeverity(p Protocol, t EventType) Severity {
	return GetFindingInfo(p, t).Severity
}

// GetFindingInfo returns the presentation info for a (protocol, event type) pair.
// Unmapped pairs get SeverityInfo and a generated title.
func GetFindingInfo(p Protocol, t EventType) FindingInfo {
	if info, ok := findingInfoMapping[GroupKey{Protocol: p, Type: t}]; ok {
		return info
	}
	return FindingInfo{
		Severity: SeverityInfo,
		Title:    "Honeypot " + string(p) + " " + string(t),
		Impact:   "The source interacted with a decoy service.",
	}
}
