package log

import (
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	STDOUT     bool   // also write to stdout
	File       string // rotated log file, empty means none
	Level      int8   // debug -1 | info 0 (default) | warn 1 | error 2
	MaxAge     int    // days to keep rotated files, 0 keeps them forever
	MaxSize    int    // megabytes per file
	MaxBackups int    // rotated files to keep
	Compress   bool   // gzip rotated files
	JsonFormat bool   // json encoder instead of console
}

// Logger and Sugar discard everything until Init is called.
var (
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()
)

// Token is the structured field for reactor tokens.
func Token(token int) zap.Field {
	return zap.Int("token", token)
}

// ParseLevel maps debug, info, warn or error to a Config level.
func ParseLevel(name string) (int8, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", name, err)
	}
	return int8(l), nil
}

func Init(config Config) error {
	ws, err := syncer(config)
	if err != nil {
		return err
	}

	level := zapcore.Level(config.Level)
	if level < zapcore.DebugLevel || level > zapcore.ErrorLevel {
		level = zapcore.InfoLevel
	}

	Logger = zap.New(zapcore.NewCore(encoder(config.JsonFormat), ws, level), zap.AddCaller())
	Sugar = Logger.Sugar()
	return nil
}

// Sync flushes buffered entries. The error stdout gives on sync is dropped.
func Sync() {
	_ = Logger.Sync()
}

func syncer(config Config) (zapcore.WriteSyncer, error) {
	var wss []zapcore.WriteSyncer

	if config.File != "" {
		wss = append(wss, zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}))
	}

	if config.STDOUT {
		wss = append(wss, zapcore.Lock(os.Stdout))
	}

	if len(wss) == 0 {
		return nil, errors.New("write syncer needed")
	}
	return zapcore.NewMultiWriteSyncer(wss...), nil
}

func encoder(json bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	if json {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}
