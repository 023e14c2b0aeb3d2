package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/aman-churiwal/velero-api/internal/cli"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	if err := cli.NewCommand("velero-api").Execute(); err != nil {
		os.Exit(1)
	}
}
