package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the admin API HTTP client, configured in PersistentPreRunE.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the htsimd admin API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for htsimctl.
var rootCmd = &cobra.Command{
	Use:   "htsimctl",
	Short: "CLI client for the htsimd simulation daemon",
	Long:  "htsimctl talks to the htsimd admin API to install rules, read device counters, and query the path engine.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:7000",
		"htsimd admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(pathCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

func baseURL() string {
	return "http://" + serverAddr
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
