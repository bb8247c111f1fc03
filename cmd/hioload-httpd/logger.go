// File: cmd/hioload-httpd/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. The returned stop flushes buffered
// output and must run before exit.
func newLogger(cfg logConfig, out io.Writer) (*zap.Logger, func(), error) {
	if cfg.Close {
		return zap.NewNop(), func() {}, nil
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch cfg.Format {
	case "json", "":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}

	if out == nil {
		out = os.Stderr
	}
	ws := zapcore.AddSync(out)
	stop := func() {}
	if cfg.WriteMode == 1 {
		buffered := &zapcore.BufferedWriteSyncer{WS: ws}
		ws = buffered
		stop = func() { _ = buffered.Stop() }
	} else {
		ws = zapcore.Lock(ws)
	}

	logger := zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller())
	return logger.Named("hioload-httpd"), func() {
		_ = logger.Sync()
		stop()
	}, nil
}
