// Package wire decodes the binary fragments lure needs from attacker traffic.
//
// The functions are stateless and never panic on malformed input: a buffer
// that is too short, truncated or inconsistent yields the zero value and
// false rather than an error. Callers fall back to recording the raw bytes.
//
//   - StripIAC removes Telnet option negotiation from a client line.
//   - ExtractRDPCookie reads the routing cookie of an X.224 Connection Request.
//   - ParseNTLM reads the domain and user name of an NTLMSSP AUTHENTICATE message.
//   - DetectSMB tells SMB1 and SMB2 negotiate requests apart.
//
// The NTLM reader assumes the fixed field layout of the AUTHENTICATE message
// and does not account for the optional Version and MIC fields. It is a
// best-effort heuristic, not an NTLM implementation.
package wire
