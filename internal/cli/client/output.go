package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	scoreColor = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
	warnColor  = color.New(color.FgYellow, color.Bold)
)

func wantJSON(cmd *cobra.Command) bool {
	outputJSON, _ := cmd.Flags().GetBool("output")
	return outputJSON
}

// printData pretty-prints the raw data payload of a response.
func printData(w io.Writer, data json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
