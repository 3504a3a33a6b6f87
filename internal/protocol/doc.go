// Package protocol implements the emulated services.
//
// Each Handler speaks just enough of one protocol to make a client reveal
// what it wants: credentials, commands, probe paths or raw payloads. Every
// connection produces a connection event first, then a bounded exchange:
// reads carry deadlines, loops carry iteration limits, and every credential
// check fails. Observations are handed to an Emitter, which never blocks
// and never fails the connection.
//
// # Handlers
//
//   - SSHHandler: password authentication via golang.org/x/crypto/ssh
//   - HTTPHandler: fake admin login page and probe capture (chi router)
//   - RDPHandler: X.224 connection request cookie and negotiation
//   - SMBHandler: SMB1/SMB2 negotiate and NTLM session setup
//   - FTPHandler: vsFTPd-style control connection
//   - TelnetHandler: login/password prompt rounds
//
// The listener package owns sockets and sessions; a Handler only ever sees
// one accepted connection at a time and closes it before returning.
package protocol
