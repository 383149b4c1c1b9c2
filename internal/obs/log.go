package obs

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerMu sync.Mutex
	logger   *log.Logger
)

// Logger returns the shared logger used for JSON event lines.
func Logger() *log.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	return logger
}

// SetOutput redirects event lines, mostly for tests and the CLI's --quiet flag.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = log.New(w, "", 0)
}

// LogEvent emits one JSON line. ts and level are filled in when absent.
func LogEvent(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["level"]; !ok {
		entry["level"] = "info"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
