package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mdbase/internal"
	pkgconfig "github.com/starford/mdbase/pkg/config"
)

var version = "dev"

// errIssuesFound makes check exit non-zero without printing an error.
var errIssuesFound = errors.New("unresolved issues")

// loadConfig reads the config file, if present, and applies flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if p := cmd.String("repository"); p != "" {
		cfg.Repository.Path = p
	}
	if cmd.Bool("no-index") {
		cfg.SQLite.Path = ""
	}
	return cfg, nil
}

// openStack wires the services for a one-shot command. Logs go to stderr so
// stdout stays machine readable.
func openStack(cmd *cli.Command) (*internal.Stack, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := internal.NewLogger(os.Stderr, internal.LogFormatText, level)
	slog.SetDefault(logger)

	st, err := internal.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, logger, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(_ context.Context, cmd *cli.Command) error {
	st, logger, err := openStack(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("serving MCP over stdio", slog.String("root", st.Repo.Root()))
	return newMCPServer(st).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "mdbase",
		Usage:   "Schema-governed Markdown document store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "repository",
				Aliases: []string{"r"},
				Usage:   "Repository root, overrides repository.path",
				Sources: cli.EnvVars("MDBASE_REPOSITORY"),
			},
			&cli.BoolFlag{
				Name:  "no-index",
				Usage: "Do not open the SQLite mirror",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug output to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdio",
				Action: serveMCP,
			},
			listCommand(),
			showCommand(),
			searchCommand(),
			graphCommand(),
			checkCommand(),
			newCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, errIssuesFound) {
			os.Exit(2)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
