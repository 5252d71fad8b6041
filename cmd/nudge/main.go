package main

import (
	"os"

	"github.com/nudgeworks/nudge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
