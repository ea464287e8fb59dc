// Package server parses server command flags and composes the table entrypoint.
package server

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/louisbranch/roundtable/internal/auth/token"
	entrypoint "github.com/louisbranch/roundtable/internal/platform/cmd"
	app "github.com/louisbranch/roundtable/internal/services/table/app"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr    string `env:"ROUNDTABLE_HTTP_ADDR"    envDefault:":8080"`
	StoragePath string `env:"ROUNDTABLE_STORAGE_PATH" envDefault:"roundtable.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the table app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	tokens, err := token.LoadConfigFromEnv(time.Now)
	if err != nil {
		return fmt.Errorf("load token config: %w", err)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTable, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:    cfg.HTTPAddr,
			StoragePath: cfg.StoragePath,
			Tokens:      tokens,
		}); err != nil {
			return fmt.Errorf("serve table: %w", err)
		}
		return nil
	})
}
