// Package main is the entry point for the estateflow service.
package main

import (
	"os"

	"github.com/rogers-f/estate-workflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
