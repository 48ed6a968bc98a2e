package main

import (
	"os"

	"github.com/sarth-shah20/berth/cmd"
)

func main() {
	// cobra has already printed the error.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
