package hal

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a peripheral class in log records.
type Component string

const (
	ComponentFlash Component = "flash"
	ComponentGPIO  Component = "gpio"
	ComponentI2C   Component = "i2c"
	ComponentSAI   Component = "sai"
	ComponentSPI   Component = "spi"
	ComponentUSART Component = "usart"
	ComponentE22   Component = "e22"
	ComponentBoard Component = "board"
)

var (
	defaultLogger *slog.Logger
	logLevel      = new(slog.LevelVar)
	logMutex      sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// SetLogLevel sets the minimum level for driver logging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogger replaces the logger used by every driver.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLogger = logger
}

// NewLogger returns a text logger on w that honours SetLogLevel.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns the current logger tagged with component.
func Logger(component Component) *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return defaultLogger.With("component", string(component))
}

func LogDebug(component Component, msg string, args ...any) {
	Logger(component).Debug(msg, args...)
}

func LogInfo(component Component, msg string, args ...any) {
	Logger(component).Info(msg, args...)
}

func LogWarn(component Component, msg string, args ...any) {
	Logger(component).Warn(msg, args...)
}

func LogError(component Component, msg string, args ...any) {
	Logger(component).Error(msg, args...)
}
