// Package main provides the entry point for the apptindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/apptindex/cmd/apptindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
