// Package obs is the observability seam for the evidence workflow:
// a shared JSON-line logger, Prometheus metrics, and build info.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. Output is one JSON object per
// line on stdout; the request middleware and audit failure paths all
// write through it.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest marshals the fields into a single JSON line. A marshal
// failure degrades to a fixed error line instead of dropping the event.
func LogRequest(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log_marshal_failed"}`)
		return
	}
	Logger().Println(string(line))
}
