// Package main provides the entry point for the load-engine CLI.
package main

import (
	"os"

	"yqhp/load-engine/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
