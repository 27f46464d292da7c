package command

import (
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/cli/output"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

// SnapshotCommand prints the current commit hash.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Print the hash of the branch's current commit",
		Action: func(c *cli.Context) error {
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			hash, err := e.client.Snapshot(ctx)
			if err != nil {
				return err
			}
			return e.printField("commit", hash.String())
		},
	}
}

// RestoreCommand resets the branch (or a subtree) to a commit.
func RestoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Reset the branch, or only PATH, to COMMIT",
		ArgsUsage: "COMMIT [PATH...]",
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

			st, err := e.client.Restore(ctx, wasmstore.Hash(c.Args().First()), pathArgs(c, 1)...)
			if err != nil {
				return err
			}
			return checkStatus("restore", st)
		},
	}
}

// RollbackCommand reverts the last change.
func RollbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Revert PATH (or the whole branch) to its previous version",
		ArgsUsage: "[PATH...]",
		Action: func(c *cli.Context) error {
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			st, err := e.client.Rollback(ctx, pathArgs(c, 0)...)
			if err != nil {
				return err
			}
			return checkStatus("rollback", st)
		},
	}
}

// GCCommand runs garbage collection.
func GCCommand() *cli.Command {
	return &cli.Command{
		Name:  "gc",
		Usage: "Remove unreferenced objects from the store",
		Action: func(c *cli.Context) error {
			e, err := getEnv(c)
			if err != nil {
				return err
			}
			ctx, cancel := e.requestContext(c)
			defer cancel()

			st, err := e.client.GC(ctx)
			if err != nil {
				return err
			}
			return checkStatus("gc", st)
		},
	}
}

// CommitCommand shows commit metadata.
func CommitCommand() *cli.Command {
	return &cli.Command{
		Name:      "commit",
		Usage:     "Show the metadata of COMMIT",
		ArgsUsage: "COMMIT",
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

			doc, err := e.client.CommitInfo(ctx, wasmstore.Hash(c.Args().First()))
			if err != nil {
				return err
			}
			var info wasmstore.CommitInfo
			if err := doc.Decode(&info); err != nil || info.Hash == "" {
				return e.printDocument(doc)
			}
			parents := make([]string, 0, len(info.Parents))
			for _, p := range info.Parents {
				parents = append(parents, p.String())
			}
			table := output.Table{Rows: [][]string{
				{"hash", info.Hash.String()},
				{"author", info.Author},
				{"date", time.Unix(info.Date, 0).UTC().Format(time.RFC3339) + " (" + strconv.FormatInt(info.Date, 10) + ")"},
				{"message", info.Message},
			}}
			for _, p := range parents {
				table.Rows = append(table.Rows, []string{"parent", p})
			}
			return e.out.Table(table, info)
		},
	}
}
