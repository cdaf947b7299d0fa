/*
Package log provides structured logging for Clockwork using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Clockwork packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithHost: Add the managed host's name
  - WithJobID: Add a job identifier
  - WithPolicy: Add the name of the policy in play

# Usage

Initializing the Logger:

	import "github.com/jameshunt/clockwork/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("master started")
	log.Debug("checking host session")
	log.Warn("host has not reported in over an hour")
	log.Error("failed to compile policy")
	log.Fatal("cannot start without report store") // Exits process

Component Loggers:

	masterLog := log.WithComponent("master")
	masterLog.Info().Msg("accepting sessions")

	hostLog := log.WithHost("db1.example.com")
	hostLog.Info().Str("policy", "base").Msg("session complete")

	jobLog := log.WithJobID(jobID)
	jobLog.Info().Int("resources", len(job.Reports)).Msg("job recorded")

# Log Content

Never log secrets or sensitive data: redact tokens, passwords, and key
material before logging, and prefer typed fields (.Str, .Int) over string
interpolation so log lines remain parseable.
*/
package log
