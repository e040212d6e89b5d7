package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Logger handles client logging to files, with errors mirrored to
// stderr. Realtime events and session activity go to client.log so a
// long-running watch/TUI session can be diagnosed after the fact.
type Logger struct {
	clientLog *log.Logger
	errorLog  *log.Logger
	debugLog  *log.Logger
	logDir    string
	isDebug   bool

	clientFile *os.File
	errorFile  *os.File
	debugFile  *os.File
}

// NewLogger creates a new logger instance writing under logDir.
func NewLogger(logDir string, debug bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir:  logDir,
		isDebug: debug,
	}

	clientFile, err := os.OpenFile(
		filepath.Join(logDir, "client.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open client.log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(logDir, "error.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0644,
	)
	if err != nil {
		clientFile.Close()
		return nil, fmt.Errorf("failed to open error.log: %w", err)
	}

	l.clientFile = clientFile
	l.errorFile = errorFile
	l.clientLog = log.New(clientFile, "", 0)
	l.errorLog = log.New(io.MultiWriter(errorFile, os.Stderr), "", 0)

	// Debug log only in debug mode
	if debug {
		debugFile, err := os.OpenFile(
			filepath.Join(logDir, "debug.log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0644,
		)
		if err == nil {
			l.debugFile = debugFile
			l.debugLog = log.New(debugFile, "", 0)
		}
	}

	return l, nil
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.clientLog.Printf("[%s] [INFO] %s", time.Now().Format("2006-01-02 15:04:05"), msg)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.errorLog.Printf("[%s] [ERROR] %s", time.Now().Format("2006-01-02 15:04:05"), msg)
}

// Debug logs a debug message (no-op unless debug mode is on)
func (l *Logger) Debug(format string, v ...interface{}) {
	if !l.isDebug || l.debugLog == nil {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.debugLog.Printf("[%s] [DEBUG] %s", time.Now().Format("2006-01-02 15:04:05"), msg)
}

// Close closes the underlying log files.
func (l *Logger) Close() {
	if l.clientFile != nil {
		l.clientFile.Close()
	}
	if l.errorFile != nil {
		l.errorFile.Close()
	}
	if l.debugFile != nil {
		l.debugFile.Close()
	}
}
