package cmd

import (
	"fmt"

	"go.uber.org/zap"
)

// newLogger builds a JSON production logger, or a console development
// logger when pretty is set. Logs go to stderr plus any extra outputs.
func newLogger(level string, pretty bool, outputs ...string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if pretty {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	zc.OutputPaths = append([]string{"stderr"}, outputs...)
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
