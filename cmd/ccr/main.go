package main

import (
	"os"

	"github.com/junioryono/ccr/cmd/ccr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
