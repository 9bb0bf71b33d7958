package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	AppLogger   *log.Logger
	ProxyLogger *log.Logger
	ErrorLogger *log.Logger

	mu           sync.RWMutex
	logLevel     = "INFO"
	appLogFile   *os.File
	proxyLogFile *os.File
	initialized  bool
)

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// NormalizeLevel upper-cases level and falls back to INFO for unknown values.
func NormalizeLevel(level string) string {
	level = strings.ToUpper(strings.TrimSpace(level))
	if _, ok := levelRank[level]; !ok {
		return "INFO"
	}
	return level
}

func enabled(level string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return levelRank[level] >= levelRank[logLevel]
}

// openLogFile creates the parent directory and opens path for appending.
// On failure the returned writer discards and the label reads "(discarded)".
func openLogFile(path, kind string) (*os.File, io.Writer, string) {
	if path == "" {
		return nil, io.Discard, "(discarded)"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		ErrorLogger.Printf("Failed to create %s log directory %s: %v. %s logs will be discarded.", kind, dir, err, kind)
		return nil, io.Discard, "(discarded)"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		ErrorLogger.Printf("Failed to open %s log file %s: %v. %s logs will be discarded.", kind, path, err, kind)
		return nil, io.Discard, "(discarded)"
	}
	return f, f, path
}

// InitGlobalLoggers (re)opens the app and proxy log files at the given level.
func InitGlobalLoggers(appLogPath, proxyLogPath, level string) error {
	mu.Lock()
	defer mu.Unlock()

	closeFilesLocked()

	logLevel = NormalizeLevel(level)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	var appWriter, proxyWriter io.Writer
	var appLabel, proxyLabel string
	appLogFile, appWriter, appLabel = openLogFile(appLogPath, "app")
	proxyLogFile, proxyWriter, proxyLabel = openLogFile(proxyLogPath, "proxy")

	AppLogger = log.New(appWriter, "APP: ", log.Ldate|log.Ltime|log.Lshortfile)
	ProxyLogger = log.New(proxyWriter, "PROXY: ", log.Ldate|log.Ltime|log.Lshortfile)

	if !initialized {
		AppLogger.Printf("App logger initialized. Log level: %s. Output file: %s", logLevel, appLabel)
		ProxyLogger.Printf("Proxy logger initialized. Log level: %s. Output file: %s", logLevel, proxyLabel)
	}
	initialized = true
	return nil
}

// InitWriters points all loggers at the given writers without touching the filesystem.
func InitWriters(app, proxy, errs io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()

	closeFilesLocked()
	logLevel = NormalizeLevel(level)
	AppLogger = log.New(app, "APP: ", log.Lmsgprefix)
	ProxyLogger = log.New(proxy, "PROXY: ", log.Lmsgprefix)
	ErrorLogger = log.New(errs, "ERROR: ", log.Lmsgprefix)
	initialized = true
}

// Level returns the active level name.
func Level() string {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

func Info(format string, v ...interface{}) {
	if AppLogger != nil && enabled("INFO") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	if AppLogger != nil && enabled("DEBUG") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warn(format string, v ...interface{}) {
	if AppLogger != nil && enabled("WARN") {
		AppLogger.Output(2, "WARN "+fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if AppLogger != nil && appLogFile != nil {
		AppLogger.Output(2, message)
	}
}

func Fatal(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
		os.Exit(1)
	}
	log.Fatal(message)
}

func ProxyInfo(format string, v ...interface{}) {
	if ProxyLogger != nil && enabled("INFO") {
		ProxyLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func ProxyDebug(format string, v ...interface{}) {
	if ProxyLogger != nil && enabled("DEBUG") {
		ProxyLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// ProxyError writes to stderr and, when a proxy log file is open, to that file too.
func ProxyError(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if ProxyLogger != nil && proxyLogFile != nil {
		ProxyLogger.Output(2, message)
	}
}

// Printf lets the proxy logger stand in wherever a Printf-style logger is expected.
type Printf struct{}

func (Printf) Printf(format string, v ...any) {
	ProxyDebug(format, v...)
}

func closeFilesLocked() {
	if appLogFile != nil {
		AppLogger.Println("Closing app log file.")
		appLogFile.Close()
		appLogFile = nil
	}
	if proxyLogFile != nil {
		ProxyLogger.Println("Closing proxy log file.")
		proxyLogFile.Close()
		proxyLogFile = nil
	}
}

func CloseLogFiles() {
	mu.Lock()
	defer mu.Unlock()
	closeFilesLocked()
	initialized = false
}
