// Ferry transfer engine CLI entry point.
package main

import (
	"os"

	"github.com/ferryfm/ferry/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
