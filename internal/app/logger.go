package app

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/valutatrade/config"
	"go.uber.org/zap"
)

// NewLogger builds a production JSON logger writing to cfg.File.
// An empty file logs to stderr.
func NewLogger(cfg config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, errors.Wrap(err, "create log dir")
		}
		zc.OutputPaths = []string{cfg.File}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
