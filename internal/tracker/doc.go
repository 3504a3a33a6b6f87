// Package tracker is a client for the vulnerability tracker the reporting
// loop submits findings to.
//
// The tracker exposes a Faraday-style workspace API rooted at
// {base}/_api/v3/ws/{workspace}: hosts are created with POST /hosts and
// looked up with GET /hosts?search=<ip>, findings are created with
// POST /vulns under a host. Host identifiers are cached in memory.
package tracker
