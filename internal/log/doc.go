// Package log builds the slog loggers used by lure.
//
// Every logger is wrapped in a RedactHandler. Operator secrets (tracker
// tokens, database DSNs, NATS credentials) are always masked. Credentials
// offered by attackers are masked too unless credential redaction is turned
// off in the configuration; they are stored in the event database either way.
//
// # Usage
//
//	logger, err := log.New(os.Stderr, log.Options{Level: "info", Format: "text", RedactCredentials: true})
//	if err != nil {
//	    return err
//	}
//	logger.Info("auth attempt", "protocol", "ssh", "username", "root", "password", "toor")
//	// password=***REDACTED***
//
// Components accept a *slog.Logger through their options and fall back to
// slog.Default() when none is given.
package log
