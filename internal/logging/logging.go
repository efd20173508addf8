// Package logging configures the shared logrus instance for the daemon.
// Output goes to stderr while running in the foreground and is mirrored
// into a rotated file under the data directory so `quotiod serve` sessions
// leave a trail the GUI can surface.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Formatter renders entries as
// [2026-01-12 08:31:07] [info ] [daemon.go:88] message key=value
type Formatter struct{}

var fieldOrder = []string{"account", "provider", "method", "conn", "pid", "port", "path", "error"}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fields []string
	for _, k := range fieldOrder {
		if v, ok := entry.Data[k]; ok {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
	}
	fieldsStr := ""
	if len(fields) > 0 {
		fieldsStr = " " + strings.Join(fields, " ")
	}

	var line string
	if entry.Caller != nil {
		line = fmt.Sprintf("[%s] [%-5s] [%s:%d] %s%s\n",
			timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		line = fmt.Sprintf("[%s] [%-5s] %s%s\n", timestamp, level, message, fieldsStr)
	}
	return []byte(line), nil
}

// Setup wires logrus to stderr plus a rotated log file. Safe to call more
// than once; only the first call takes effect.
func Setup(logDir, level string) {
	setupOnce.Do(func() {
		log.SetReportCaller(true)
		log.SetFormatter(&Formatter{})

		parsed, err := log.ParseLevel(level)
		if err != nil {
			parsed = log.InfoLevel
		}
		log.SetLevel(parsed)

		if logDir == "" {
			log.SetOutput(os.Stderr)
			return
		}
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			log.SetOutput(os.Stderr)
			log.WithField("path", logDir).Warnf("cannot create log directory: %v", err)
			return
		}
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "quotiod.log"),
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	})
}
