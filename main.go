package main

import (
	"os"

	"github.com/conneroisu/fwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
