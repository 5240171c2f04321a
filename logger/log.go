package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func init() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	level := zapcore.InfoLevel
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		_ = level.Set(v)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		level,
	)

	Log = zap.New(core, zap.AddCaller())
}

func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}
func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	Log.Debug(fmt.Sprintf(format, args...))
}
