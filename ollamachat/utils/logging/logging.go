package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ollamachat/ollamachat/config"
)

// Loggers bundles the per-concern loggers handed to every component.
type Loggers struct {
	App     *zap.Logger
	Request *zap.Logger
	Timer   *zap.Logger
	Error   *zap.Logger
}

// New builds the loggers, creating the log directory if needed.
func New(cfg config.Config) (*Loggers, error) {
	if err := os.MkdirAll(cfg.LogDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}

	newLogger := func(file string, maxSize, maxAge int, lvl zapcore.Level) *zap.Logger {
		core := zapcore.NewCore(encoder,
			zapcore.AddSync(&lumberjack.Logger{
				Filename: filepath.Join(cfg.LogDir, file), MaxSize: maxSize, MaxAge: maxAge, Compress: true,
			}),
			lvl,
		)
		if cfg.Debug {
			console := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), zap.DebugLevel)
			core = zapcore.NewTee(core, console)
		}
		return zap.New(core)
	}

	return &Loggers{
		App:     newLogger("app.log", 100, 28, level),
		Request: newLogger("request.log", 50, 7, zap.InfoLevel),
		Timer:   newLogger("timer.log", 50, 7, zap.InfoLevel),
		Error:   newLogger("error.log", 100, 30, zap.ErrorLevel),
	}, nil
}

// Nop returns loggers that discard everything.
func Nop() *Loggers {
	return &Loggers{
		App:     zap.NewNop(),
		Request: zap.NewNop(),
		Timer:   zap.NewNop(),
		Error:   zap.NewNop(),
	}
}

func (l *Loggers) Sync() {
	_ = l.App.Sync()
	_ = l.Request.Sync()
	_ = l.Timer.Sync()
	_ = l.Error.Sync()
}

// LogDuration lets you do: defer logs.LogDuration(ctx, "FuncName")()
func (l *Loggers) LogDuration(ctx context.Context, name string) func() {
	start := time.Now()
	reqID := middleware.GetReqID(ctx)

	return func() {
		fields := []zap.Field{
			zap.String("func", name),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		l.Timer.Info("Function timed", fields...)
	}
}

// SessionField logs only a prefix of the session id.
func SessionField(sessionID string) zap.Field {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return zap.String("session", sessionID)
}
