// Package main provides the entry point for the lure CLI.
//
// lure is a multi-protocol honeypot. It emulates SSH, HTTP, RDP, SMB, FTP
// and Telnet services, records every connection and credential attempt,
// and files aggregated findings with a vulnerability tracker.
//
// Usage:
//
//	lure serve
//	lure events --unreported
//	lure report --once
//
// See --help for all available options.
package main

// main is the entry point for lure.
func main() {
	Execute()
}
