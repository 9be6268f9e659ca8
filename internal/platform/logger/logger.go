package logger

import (
	"log"
	"os"
)

// New returns the process logger. Prefixed per component so interleaved
// output from the audit worker and the HTTP server stays readable.
func New(component string) *log.Logger {
	prefix := ""
	if component != "" {
		prefix = component + " "
	}
	return log.New(os.Stdout, prefix, log.LstdFlags)
}
