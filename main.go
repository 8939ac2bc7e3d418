package main

import (
	"os"

	"github.com/spigell/doc-reviewer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
