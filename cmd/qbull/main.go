package main

import (
	"os"

	"github.com/fazpi-ai/fazpi-qbull/internal/cmd/client"
)

func main() {
	rootCmd := client.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
