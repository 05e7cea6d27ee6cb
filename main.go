package main

import (
	"os"

	"github.com/clawdesk/clawdesk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
