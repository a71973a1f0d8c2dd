package hostlib

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/object"
)

// Console writes the compute module's log lines to log. It offers log, warn
// and error; each joins its arguments with spaces.
func Console(log *zap.Logger) Lib {
	if log == nil {
		log = Logger()
	}
	log = log.Named("console")
	rec := object.NewRecord("console").
		Set("log", consoleFunc(log, zapcore.InfoLevel)).
		Set("warn", consoleFunc(log, zapcore.WarnLevel)).
		Set("error", consoleFunc(log, zapcore.ErrorLevel))
	return Lib{Name: "console", Object: rec}
}

func consoleFunc(log *zap.Logger, lvl zapcore.Level) object.Func {
	return func(_ context.Context, call object.Call) (object.Object, error) {
		if ce := log.Check(lvl, join(call.Args)); ce != nil {
			ce.Write(zap.Int("args", len(call.Args)))
		}
		return nil, nil
	}
}
