package main

import (
	"os"

	"github.com/hpcugent/quotareport/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
