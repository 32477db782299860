package logger

import (
	"log/slog"
	"os"

	"possync/internal/config"
	"possync/pkg/logging"
)

func NewLogger(cfg config.Config) *slog.Logger {
	handler := logging.NewHandler(os.Stdout, cfg.Logger.Level, cfg.Logger.Format)
	logger := slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("env", cfg.Service.Env),
		slog.String("store", cfg.Store.Driver),
		slog.Int("pid", os.Getpid()),
	)
	slog.SetDefault(logger)
	return logger
}
