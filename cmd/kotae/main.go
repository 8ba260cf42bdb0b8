// Package main is the kotae CLI entry point.
package main

import (
	"os"

	"github.com/hyperjump/kotae/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
