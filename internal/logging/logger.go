package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level задаёт минимальный уровень сообщений, которые попадут в лог.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var levelNames = map[string]Level{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"error": LevelError,
}

// ParseLevel преобразует строковое значение из конфигурации в Level.
func ParseLevel(value string) Level {
	value = strings.TrimSpace(strings.ToLower(value))
	if lvl, ok := levelNames[value]; ok {
		return lvl
	}
	return LevelInfo
}

// Logger представляет потокобезопасный логгер с уровнями поверх zap.
type Logger struct {
	sugar *zap.SugaredLogger
	base  *zap.Logger
}

// New создаёт новый логгер, пишущий в указанный файл.
// Пустой путь направляет вывод в stdout.
func New(path string, level Level) (*Logger, error) {
	outputPath := "stdout"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory for %s: %w", path, err)
		}
		outputPath = path
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level.zapLevel()),
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
	}
	base, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{sugar: base.Sugar(), base: base}, nil
}

// Close сбрасывает буферы логгера.
func (l *Logger) Close() error {
	if l == nil || l.base == nil {
		return nil
	}
	// Sync для stdout на некоторых платформах возвращает ошибку, её игнорируем.
	_ = l.base.Sync()
	return nil
}

// Debugf пишет отладочное сообщение.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Infof пишет информационное сообщение.
func (l *Logger) Infof(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Errorf пишет сообщение об ошибке.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

func (lvl Level) zapLevel() zapcore.Level {
	switch lvl {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// String возвращает текстовое представление уровня.
func (lvl Level) String() string {
	switch lvl {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type loggerContextKey struct{}

// WithContext сохраняет логгер в контексте для дальнейшей передачи.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext извлекает логгер из контекста, если он там есть.
func FromContext(ctx context.Context) (*Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey{}).(*Logger)
	return logger, ok
}
