package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	cfgFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "notescrub",
	Short: "Notescrub - PHI redaction and zero-knowledge temporal tokenization for clinical notes",
	Long: `Notescrub finds protected health information in free-text clinical
notes, lets an operator review the findings, redacts them, and replaces
absolute dates with privacy-preserving relative offsets so a procedure
timeline can be reconstructed without ever storing or transmitting a real
calendar date.

Redacted output passes a final leak scan before any multi-document bundle
may be submitted; the scan fails closed.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notescrub v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(redactCmd)
	rootCmd.AddCommand(scanCmd)
}
