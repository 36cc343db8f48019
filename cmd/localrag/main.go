// Package main provides the entry point for the localrag CLI.
package main

import (
	"os"

	"localrag/cmd/localrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
