package cli

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"room-capture/internal/config"
	"room-capture/internal/domain"
)

// loadSettings reads the settings file named by --config or the default.
func loadSettings(flags *globalFlags) (domain.Settings, error) {
	path := flags.configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return domain.Settings{}, errors.Wrap(err, "resolve user home")
		}
		path = config.DefaultPath(home)
	}
	return config.NewJSONStore(path).Load()
}

// newLogger builds a JSON production logger or a console logger on w.
func newLogger(flags *globalFlags, w io.Writer) (*zap.Logger, error) {
	level := zap.InfoLevel
	if flags.verbose {
		level = zap.DebugLevel
	}

	if flags.jsonLogs {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(w),
		level,
	)), nil
}
