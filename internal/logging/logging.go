// Package logging builds the process logger: text on stdout, plus JSON
// lines in a file when one is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"

	"github.com/LeventeLantos/outreach-engine/internal/config"
)

const service = "outreach-engine"

// New returns a logger writing to stdout and, when cfg.File is set, to
// that file. The returned close func releases the file.
func New(stdout io.Writer, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	text := slog.NewTextHandler(stdout, opts)

	if cfg.File == "" {
		return slog.New(text).With(slog.String("service", service)), func() error { return nil }, nil
	}

	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := slog.New(slogmulti.Fanout(
		text,
		slog.NewJSONHandler(f, opts),
	)).With(slog.String("service", service))
	return logger, f.Close, nil
}

// Setup installs New's logger as the process default.
func Setup(cfg config.LogConfig) (func() error, error) {
	logger, closeFn, err := New(os.Stdout, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closeFn, nil
}
