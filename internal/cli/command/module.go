package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/cli/output"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

// FindCommand downloads a module.
func FindCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Aliases:   []string{"get"},
		Usage:     "Download a module by path or hash",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Write the module to FILE instead of stdout",
			},
		},
		Action: moduleFind,
	}
}

func moduleFind(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.requestContext(c)
	defer cancel()

	module, found, err := e.client.Find(ctx, pathArgs(c, 0)...)
	if err != nil {
		return err
	}
	if !found {
		return cli.Exit(fmt.Sprintf("find: %s not found", wasmstore.Normalize(pathArgs(c, 0)...)), 1)
	}
	e.logger.Debug("module found", "hash", module.Hash, "bytes", len(module.Data))

	if dst := c.String("file"); dst != "" {
		return os.WriteFile(dst, module.Data, 0o644)
	}
	_, err = c.App.Writer.Write(module.Data)
	return err
}

// HashCommand prints a module's hash.
func HashCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "Print the hash of a module",
		ArgsUsage: "PATH...",
		Action:    moduleHash,
	}
}

func moduleHash(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.requestContext(c)
	defer cancel()

	hash, found, err := e.client.Hash(ctx, pathArgs(c, 0)...)
	if err != nil {
		return err
	}
	if !found {
		return cli.Exit(fmt.Sprintf("hash: %s not found", wasmstore.Normalize(pathArgs(c, 0)...)), 1)
	}
	return e.printField("hash", hash.String())
}

// printField prints a bare value in table mode and a one-field object
// otherwise.
func (e *env) printField(key, value string) error {
	if e.out.Format() == output.FormatTable {
		return e.out.Value(value)
	}
	return e.out.Value(map[string]string{key: value})
}

// AddCommand uploads a module.
func AddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"put"},
		Usage:     "Upload a module from FILE (or stdin when FILE is -)",
		ArgsUsage: "FILE PATH...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "follow",
				Usage: "Keep running and re-upload FILE whenever it changes",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Value: 200 * time.Millisecond,
				Usage: "Quiet period before re-uploading a changed file",
			},
		},
		Action: moduleAdd,
	}
}

func moduleAdd(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	src := c.Args().First()
	path := pathArgs(c, 1)

	if c.Bool("follow") {
		if src == "-" {
			return cli.Exit("add: --follow needs a file, not stdin", 2)
		}
		return followFile(c, e, src, path)
	}

	var data []byte
	if src == "-" {
		data, err = io.ReadAll(c.App.Reader)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("add: read %s: %w", src, err)
	}
	return upload(c, e, data, path)
}

func upload(c *cli.Context, e *env, data []byte, path []string) error {
	ctx, cancel := e.requestContext(c)
	defer cancel()

	hash, err := e.client.Add(ctx, bytes.NewReader(data), path...)
	if err != nil {
		return err
	}
	e.logger.Info("module added", "path", wasmstore.Normalize(path...), "hash", hash)
	if e.out.Format() == output.FormatTable {
		return e.out.Value(hash.String())
	}
	return e.out.Value(map[string]string{"path": wasmstore.Normalize(path...), "hash": hash.String()})
}

// followFile uploads src once and again after every write or re-create until
// the command's context ends. Editors that replace files are handled by
// watching the parent directory.
func followFile(c *cli.Context, e *env, src string, path []string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("add: watch %s: %w", src, err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("add: watch %s: %w", src, err)
	}

	push := func() error {
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("add: read %s: %w", src, err)
		}
		return upload(c, e, data, path)
	}
	if err := push(); err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()
	debounce := c.Duration("debounce")
	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer = time.After(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("file watch error", "error", err)
		case <-timer:
			timer = nil
			if err := push(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				e.logger.Error("re-upload failed", "error", err)
			}
		}
	}
}

// DeleteCommand removes a module.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Remove a module",
		ArgsUsage: "PATH...",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			st, err := e.client.Delete(ctx, pathArgs(c, 0)...)
			if err != nil {
				return err
			}
			return checkStatus("delete", st)
		},
	}
}

// ContainsCommand checks for a module. It exits 1 when the module is absent.
func ContainsCommand() *cli.Command {
	return &cli.Command{
		Name:      "contains",
		Usage:     "Check whether a module exists",
		ArgsUsage: "PATH...",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			st, err := e.client.Contains(ctx, pathArgs(c, 0)...)
			if err != nil {
				return err
			}
			if st.Kind() == wasmstore.KindNotFound {
				if err := e.out.Value(false); err != nil {
					return err
				}
				return cli.Exit("", 1)
			}
			if err := checkStatus("contains", st); err != nil {
				return err
			}
			return e.out.Value(true)
		},
	}
}

// SetCommand points a path at an existing hash.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Point PATH at an existing module HASH",
		ArgsUsage: "HASH PATH...",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			st, err := e.client.Set(ctx, wasmstore.Hash(c.Args().First()), pathArgs(c, 1)...)
			if err != nil {
				return err
			}
			return checkStatus("set", st)
		},
	}
}

// ListCommand lists modules.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List modules, optionally under PATH",
		ArgsUsage: "[PATH...]",
		Action: func(c *cli.Context) error {
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			doc, err := e.client.List(ctx, pathArgs(c, 0)...)
			if err != nil {
				return err
			}
			var modules wasmstore.ModuleList
			if err := doc.Decode(&modules); err != nil {
				return e.printDocument(doc)
			}
			paths := make([]string, 0, len(modules))
			for p := range modules {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			table := output.Table{Header: []string{"PATH", "HASH"}}
			for _, p := range paths {
				table.Rows = append(table.Rows, []string{p, modules[p].String()})
			}
			return e.out.Table(table, modules)
		},
	}
}

// VersionsCommand lists the versions of a module.
func VersionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "versions",
		Usage:     "List the versions of a module",
		ArgsUsage: "PATH...",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			doc, err := e.client.Versions(ctx, pathArgs(c, 0)...)
			if err != nil {
				return err
			}
			var versions []wasmstore.Version
			if err := doc.Decode(&versions); err != nil {
				return e.printDocument(doc)
			}
			table := output.Table{Header: []string{"HASH", "COMMIT"}}
			raw := make([]map[string]string, 0, len(versions))
			for _, v := range versions {
				table.Rows = append(table.Rows, []string{v.Hash.String(), v.Commit.String()})
				raw = append(raw, map[string]string{"hash": v.Hash.String(), "commit": v.Commit.String()})
			}
			return e.out.Table(table, raw)
		},
	}
}

// printDocument renders a response whose shape the command does not know.
func (e *env) printDocument(doc wasmstore.Document) error {
	v, err := doc.Value()
	if err != nil {
		return err
	}
	return e.out.Value(v)
}
