package multiplexer

import (
	"os"
	"path/filepath"
	"sync"
)

var sep = []byte(`
+-----------+
| Separator |
+-----------+

`)

// A Logger writes to stdout and to <dir>/latest.txt
// The log of the previous run is kept as <dir>/last.txt
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger rotates the log files in dir and returns a Logger
// Install it with log.SetOutput
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}

	latest := filepath.Join(dir, "latest.txt")
	if err := os.Rename(latest, filepath.Join(dir, "last.txt")); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(latest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	return &Logger{file: f}, nil
}

func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	os.Stdout.Write(p)

	if l.file == nil {
		return len(p), nil
	}

	return l.file.Write(p)
}

// Close writes a separator and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	l.file.Write(sep)
	err := l.file.Close()
	l.file = nil

	return err
}
