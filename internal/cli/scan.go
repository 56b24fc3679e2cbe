package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notescrub/notescrub/internal/leak"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan redacted text for residual date-like fragments (reads stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(args)
	},
}

func runScan(args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	result := leak.Scan(text)
	if result.Count > 0 {
		fmt.Fprintf(os.Stderr, "leak scan failed: %d date-like fragment(s) found\n", result.Count)
		os.Exit(1)
	}
	fmt.Println("clean")
	return nil
}
