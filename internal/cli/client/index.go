package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// IngestResult mirrors the ingest response.
type IngestResult struct {
	Entries int `json:"entries"`
	Records int `json:"records"`
	Rows    int `json:"rows"`
}

// IndexStats mirrors GET /stats.
type IndexStats struct {
	DataDir    string `json:"data_dir"`
	Rows       int    `json:"rows"`
	Dim        int    `json:"dim"`
	LogRows    int    `json:"log_rows"`
	Generation uint64 `json:"generation"`
}

// IngestCmd uploads a knowledge file keyed by class to /ingest/bulk.
func IngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a knowledge file",
		Long:  "Uploads a JSON or YAML document keyed by class (erros, studio, xwork, integracao) to the server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			return runIngest(cmd.OutOrStdout(), api, args[0], wantJSON(cmd))
		},
	}
}

func runIngest(w io.Writer, api *APIClient, path string, outputJSON bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	contentType := "application/json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		contentType = "application/yaml"
	}

	resp, err := api.PostRaw("/ingest/bulk", contentType, file)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if outputJSON {
		return printData(w, resp.Data)
	}

	var result IngestResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse ingest result: %w", err)
	}
	fmt.Fprintf(w, "Ingested %d entries as %d records (%d rows in the index)\n", result.Entries, result.Records, result.Rows)
	return nil
}

// StatsCmd prints index statistics.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			return runStats(cmd.OutOrStdout(), api, wantJSON(cmd))
		},
	}
}

func runStats(w io.Writer, api *APIClient, outputJSON bool) error {
	resp, err := api.Get("/stats")
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	if outputJSON {
		return printData(w, resp.Data)
	}

	var stats IndexStats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse stats: %w", err)
	}
	fmt.Fprintf(w, "Data dir:   %s\n", stats.DataDir)
	fmt.Fprintf(w, "Rows:       %d\n", stats.Rows)
	fmt.Fprintf(w, "Dimension:  %d\n", stats.Dim)
	fmt.Fprintf(w, "Generation: %d\n", stats.Generation)
	if stats.LogRows != stats.Rows {
		fmt.Fprintln(w, warnColor.Sprintf("corpus log has %d rows, run rebuild on the server", stats.LogRows))
	}
	return nil
}

// ClearCmd drops the whole index on the server.
func ClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record from the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete the whole index?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			api := NewAPIClientWithCmd(cmd)
			if _, err := api.Delete("/index"); err != nil {
				return fmt.Errorf("clear failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Index cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s %s ", warnColor.Sprint(question), "[y/N]")
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
