// Package main provides the entry point for the datachat gateway.
package main

import (
	"fmt"
	"os"

	"github.com/sergioferragut/data-chat/cmd/datachat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
