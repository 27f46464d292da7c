package command

import (
	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/cli/output"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore"
)

// BranchCommand groups branch management.
func BranchCommand() *cli.Command {
	return &cli.Command{
		Name:    "branch",
		Aliases: []string{"branches"},
		Usage:   "List, create or delete branches",
		Action:  branchList,
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List branches",
				Action: branchList,
			},
			{
				Name:      "create",
				Usage:     "Create branch NAME from the current branch",
				ArgsUsage: "NAME",
				Action:    branchCreate,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete branch NAME",
				ArgsUsage: "NAME",
				Action:    branchDelete,
			},
		},
	}
}

func branchList(c *cli.Context) error {
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.requestContext(c)
	defer cancel()

	doc, err := e.client.Branches(ctx)
	if err != nil {
		return err
	}
	var branches wasmstore.BranchList
	if err := doc.Decode(&branches); err != nil {
		return e.printDocument(doc)
	}
	current := e.client.Session().Branch
	table := output.Table{Header: []string{"BRANCH", "CURRENT"}}
	for _, b := range branches {
		mark := ""
		if b == current {
			mark = "*"
		}
		table.Rows = append(table.Rows, []string{b, mark})
	}
	return e.out.Table(table, branches)
}

func branchCreate(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.requestContext(c)
	defer cancel()

	st, err := e.client.CreateBranch(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return checkStatus("branch create", st)
}

func branchDelete(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.requestContext(c)
	defer cancel()

	st, err := e.client.DeleteBranch(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return checkStatus("branch delete", st)
}

// MergeCommand merges another branch into the current one.
func MergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge BRANCH into the current branch",
		ArgsUsage: "BRANCH",
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

			st, err := e.client.Merge(ctx, c.Args().First())
			if err != nil {
				return err
			}
			return checkStatus("merge", st)
		},
	}
}
