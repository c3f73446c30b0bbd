package main

import (
	"os"

	"github.com/tablewire/tablewire/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
