package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/kbrag/internal/cli"
	"github.com/cloo-solutions/kbrag/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbrag",
		Short: "kbrag CLI - query a kbrag server",
		Long: `kbrag talks to a running kbragd server.

Environment variables:
  KBRAG_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.ChatCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.StatsCmd())
	rootCmd.AddCommand(client.ClearCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
