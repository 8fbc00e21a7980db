// Package main provides the entry point for the agendex CLI.
package main

import (
	"os"

	"github.com/byraadsarkiv/agendex/cmd/agendex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
