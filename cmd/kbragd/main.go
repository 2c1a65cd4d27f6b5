package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/kbrag/internal/cli"
	"github.com/cloo-solutions/kbrag/internal/cli/admin"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbragd",
		Short: "kbrag server and index administration",
		Long: `kbragd serves the knowledge base over HTTP and manages the local index.

Environment variables:
  OPENAI_API_KEY       Embedding provider key (required for serve, ingest, search, rebuild)
  KBRAG_DATA_DIR       Index directory (default: data)
  KBRAG_PORT           HTTP port (default: 8080)
  KBRAG_S3_ENDPOINT    Enables the snapshot mirror and restore (with KBRAG_S3_ACCESS_KEY_ID and KBRAG_S3_SECRET_ACCESS_KEY)`,
		Version: version,
	}

	rootCmd.PersistentFlags().String("data-dir", "", "Index directory (overrides KBRAG_DATA_DIR)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.SearchCmd())
	rootCmd.AddCommand(admin.ListCmd())
	rootCmd.AddCommand(admin.StatsCmd())
	rootCmd.AddCommand(admin.ClearCmd())
	rootCmd.AddCommand(admin.RebuildCmd())
	rootCmd.AddCommand(admin.RestoreCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
