package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

// ListResponse covers both shapes of GET /list: titles, or a message when
// the class is empty.
type ListResponse struct {
	Class   string   `json:"classe,omitempty"`
	Titles  []string `json:"titulos,omitempty"`
	Message string   `json:"mensagem,omitempty"`
}

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <classe>",
		Short: "List titles of a class",
		Long:  "Lists the distinct titles stored for one class (erros, studio, xwork, integracao).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			return runList(cmd.OutOrStdout(), api, args[0], wantJSON(cmd))
		},
	}
}

func runList(w io.Writer, api *APIClient, class string, outputJSON bool) error {
	resp, err := api.Get("/list?classe=" + url.QueryEscape(class))
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	if outputJSON {
		return printData(w, resp.Data)
	}

	var listResp ListResponse
	if err := json.Unmarshal(resp.Data, &listResp); err != nil {
		return fmt.Errorf("failed to parse list response: %w", err)
	}

	if listResp.Message != "" {
		fmt.Fprintln(w, listResp.Message)
		return nil
	}

	fmt.Fprintf(w, "%s (%d)\n", titleColor.Sprint(listResp.Class), len(listResp.Titles))
	for _, title := range listResp.Titles {
		fmt.Fprintf(w, "- %s\n", title)
	}
	return nil
}
