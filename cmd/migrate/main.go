package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/workshop/internal/app"
	"github.com/odyssey-erp/workshop/internal/platform/migrations"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	m, err := migrations.New(cfg.PGDSN, logger)
	if err != nil {
		logger.Error("init migrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		err = fmt.Errorf("unknown direction %q", *direction)
	}
	if err != nil {
		logger.Error("migrate", slog.String("direction", *direction), slog.Any("error", err))
		os.Exit(1)
	}
}
