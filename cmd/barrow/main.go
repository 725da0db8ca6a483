package main

import (
	"os"

	"github.com/barrowworks/barrow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
