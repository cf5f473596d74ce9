// Package main provides the entry point for the reposync CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/reposync/cmd/reposync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
