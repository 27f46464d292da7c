// Package main provides the entry point for the wasmstore command-line tool.
package main

import (
	"fmt"
	"os"

	"github.com/dylibso/wasmstore_sdk_go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
