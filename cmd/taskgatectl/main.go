package main

import (
	"fmt"
	"os"

	"taskgate/cmd/taskgatectl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
