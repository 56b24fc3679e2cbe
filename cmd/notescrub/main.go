package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/notescrub/notescrub/internal/cli"
)

func main() {
	// Load .env if present; environment wins over file values.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
