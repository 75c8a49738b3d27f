package log

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process wide logger. It is replaced by SetupLogger and must be read after it has been called.
var Log = zapr.NewLogger(zap.NewNop())

func SetupLogger(level, timeEncoder string, development bool) {
	setupLog := Log.WithName("setup")

	var lvl zapcore.Level
	var enc zapcore.TimeEncoder

	lvlErr := lvl.UnmarshalText([]byte(level))
	if lvlErr != nil {
		setupLog.Error(lvlErr, "error unmarshalling log level")
		os.Exit(1)
	}
	encErr := enc.UnmarshalText([]byte(timeEncoder))
	if encErr != nil {
		setupLog.Error(encErr, "error unmarshalling time encoder")
		os.Exit(1)
	}
	Log = NewLogger(lvl, enc, development)
}

// NewLogger builds a logr.Logger backed by zap. Verbosity levels map to negative zap levels, so V(1) is debug.
func NewLogger(level zapcore.Level, timeEncoder zapcore.TimeEncoder, development bool) logr.Logger {
	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = timeEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = timeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))

	opts := []zap.Option{zap.AddCaller()}
	if development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zapr.NewLogger(zap.New(core, opts...))
}

func SetupLoggerWithCommand(cmd *cobra.Command) error {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("error getting 'log-level' flag: %v", err)
	}
	logTimeEncoder, err := cmd.Flags().GetString("log-time-encoder")
	if err != nil {
		return fmt.Errorf("error getting 'log-time-encoder' flag: %v", err)
	}
	logDev, err := cmd.Flags().GetBool("log-dev")
	if err != nil {
		return fmt.Errorf("error getting 'log-dev' flag: %v", err)
	}
	SetupLogger(logLevel, logTimeEncoder, logDev)
	return nil
}
