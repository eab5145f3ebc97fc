// Package plog wires up the logrus logger shared by perfconv's
// commands and libraries, following the way lazydocker's pkg/log
// builds a package-level logger from an AppConfig.
package plog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured for either human-readable
// terminal output (text formatter, level from verbose) or, when
// jsonOutput is set, structured JSON suitable for piping into a log
// aggregator.
func New(verbose, jsonOutput bool) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if jsonOutput {
		log.Formatter = &logrus.JSONFormatter{}
	} else {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	return log
}
