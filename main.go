package main

import (
	"os"

	"github.com/raglet/raglet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
