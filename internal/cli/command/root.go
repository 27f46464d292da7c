// Package command defines the wasmstore command-line tool using
// urfave/cli/v2:
//
//   - root.go: application, global flags, client construction
//   - module.go: module read/write commands
//   - history.go: snapshot, restore, rollback, gc and commit commands
//   - branch.go: branch management and merge
//   - watch.go: change feed streaming with reconnect
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/cli/config"
	"github.com/dylibso/wasmstore_sdk_go/internal/cli/output"
	"github.com/dylibso/wasmstore_sdk_go/internal/logger"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const envKey = "env"

// flagKeys maps global flag names to configuration keys.
var flagKeys = map[string]string{
	"url":         "url",
	"auth":        "auth",
	"branch":      "branch",
	"api-version": "api_version",
	"output":      "output",
	"timeout":     "timeout",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// env is the per-invocation state built from configuration.
type env struct {
	cfg    *config.Config
	client *wasmstore.Client
	out    *output.Formatter
	logger *slog.Logger
}

// App creates the CLI application. clientOpts are appended to the options
// derived from configuration when the store client is built.
func App(clientOpts ...wasmstore.Option) *cli.App {
	app := &cli.App{
		Name:    "wasmstore",
		Usage:   "Manage WebAssembly modules in a wasmstore server",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			FindCommand(),
			HashCommand(),
			AddCommand(),
			DeleteCommand(),
			ContainsCommand(),
			SetCommand(),
			ListCommand(),
			VersionsCommand(),
			SnapshotCommand(),
			RestoreCommand(),
			RollbackCommand(),
			GCCommand(),
			CommitCommand(),
			BranchCommand(),
			MergeCommand(),
			WatchCommand(),
		},
		Before: func(c *cli.Context) error {
			e, err := newEnv(c, clientOpts)
			if err != nil {
				return err
			}
			c.App.Metadata[envKey] = e
			return nil
		},
		After: func(c *cli.Context) error {
			if e, ok := c.App.Metadata[envKey].(*env); ok {
				return e.client.Close()
			}
			return nil
		},
	}
	return app
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"WASMSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "wasmstore server address (default http://127.0.0.1:6384)",
		},
		&cli.StringFlag{
			Name:  "auth",
			Usage: "Token sent as Wasmstore-Auth",
		},
		&cli.StringFlag{
			Name:    "branch",
			Aliases: []string{"b"},
			Usage:   "Branch to operate on (server default when unset)",
		},
		&cli.StringFlag{
			Name:  "api-version",
			Usage: "API version tag (default v1)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout (default 30s)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: text, json",
		},
	}
}

// setFlags returns the global flags the user set, keyed like the config file.
func setFlags(c *cli.Context) map[string]any {
	out := make(map[string]any)
	for name, key := range flagKeys {
		if !c.IsSet(name) {
			continue
		}
		if name == "timeout" {
			out[key] = c.Duration(name)
			continue
		}
		out[key] = c.String(name)
	}
	return out
}

func newEnv(c *cli.Context, clientOpts []wasmstore.Option) (*env, error) {
	cfg, err := config.Load(c.String("config"), setFlags(c))
	if err != nil {
		return nil, err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	if c.App.ErrWriter != nil {
		logCfg.Output = c.App.ErrWriter
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := []wasmstore.Option{
		wasmstore.WithAuth(cfg.Auth),
		wasmstore.WithBranch(cfg.Branch),
		wasmstore.WithVersion(cfg.APIVersion),
		wasmstore.WithLogger(log),
	}
	client, err := wasmstore.New(cfg.URL, append(opts, clientOpts...)...)
	if err != nil {
		return nil, err
	}
	log.Debug("client ready", "url", client.Session().URL, "branch", cfg.Branch, "auth", cfg.Auth)

	w := c.App.Writer
	if w == nil {
		w = os.Stdout
	}
	return &env{
		cfg:    cfg,
		client: client,
		out:    output.New(w, format),
		logger: log,
	}, nil
}

func getEnv(c *cli.Context) (*env, error) {
	if e, ok := c.App.Metadata[envKey].(*env); ok {
		return e, nil
	}
	return nil, errors.New("command: client not initialised")
}

// requestContext bounds a single command by the configured timeout.
func (e *env) requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// checkStatus turns a non-2xx status into a CLI exit error.
func checkStatus(op string, st wasmstore.Status) error {
	if st.OK() {
		return nil
	}
	msg := fmt.Sprintf("%s: %s (status %d)", op, st.Kind(), st.Code)
	if len(st.Body) > 0 {
		msg += ": " + string(st.Body)
	}
	return cli.Exit(msg, 1)
}

// pathArgs returns the positional arguments as path segments, or nil when
// there are none so the route addresses the tree root.
func pathArgs(c *cli.Context, from int) []string {
	args := c.Args().Slice()
	if len(args) <= from {
		return nil
	}
	return args[from:]
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return cli.Exit(fmt.Sprintf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage), 2)
	}
	return nil
}
