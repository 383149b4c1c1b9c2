// Package app wires configuration, storage and the optional generation and mail backends into
// an engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/genai"
	"intakeline/internal/mail"
	"intakeline/internal/migrate"
	"intakeline/internal/obs"
)

type Options struct {
	Workspace string
	// ConfigPath overrides the workspace intakeline.yml.
	ConfigPath string
	Logger     *log.Logger
}

type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
}

// LoadConfig reads the explicit config file, or the workspace one, falling back to defaults.
func LoadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

// Open loads config, opens and migrates the database and builds the engine. The generation
// backend is attached when its API key is set, the mailer when its refresh token is set.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, cfg.Database.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	obs.Init()

	e := engine.New(conn, cfg.Database.Driver, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	if cfg.Generation.APIKey() != "" {
		e.Generator = genai.New(cfg.Generation, nil)
	}
	if strings.TrimSpace(os.Getenv(cfg.Mail.RefreshTokenEnv)) != "" {
		m, err := mail.New(ctx, cfg.Mail)
		if err != nil {
			e.Logger.Printf("mail backend disabled: %v", err)
		} else {
			e.Mailer = m
		}
	}
	return &App{Config: cfg, DB: conn, Engine: e}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
