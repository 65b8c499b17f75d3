// Package log sets up the op/go-logging backend shared by every package in
// this module. Nothing here logs through the bare standard library logger.
package log

import (
	"os"

	"github.com/op/go-logging"
)

var stderrFormat = logging.MustStringFormatter(
	`%{color}pv-display-helper ▶ %{message}%{color:reset}`,
)

// New returns a logger for the given module name (conventionally a package
// name, e.g. "provider" or "display"), leveled from PVDISPLAY_LOG_LEVEL or
// defaultLevel if that variable is unset or unrecognized.
func New(module string, defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, stderrFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(levelFromEnv(defaultLevel), module)
	logging.SetBackend(leveled)
	return logging.MustGetLogger(module)
}

func levelFromEnv(defaultLevel logging.Level) logging.Level {
	switch os.Getenv("PVDISPLAY_LOG_LEVEL") {
	case "CRITICAL":
		return logging.CRITICAL
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "INFO":
		return logging.INFO
	case "DEBUG":
		return logging.DEBUG
	default:
		return defaultLevel
	}
}
