// Package main provides the entry point for the fishdash CLI.
package main

import (
	"fmt"
	"os"

	"fishdash/cmd/fishdash/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
