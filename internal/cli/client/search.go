package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID          string   `json:"id"`
	Class       string   `json:"classe"`
	Title       string   `json:"titulo"`
	Chunk       string   `json:"chunk"`
	Source      string   `json:"source"`
	Identifiers []string `json:"identificadores,omitempty"`
	Score       float64  `json:"score"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	Query   string         `json:"query"`
	Class   *string        `json:"classe"`
	Results []SearchResult `json:"results"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		class string
		k     int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long:  "Runs a semantic search and prints the closest chunks with their scores.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			return runSearch(cmd.OutOrStdout(), api, args[0], class, k, wantJSON(cmd))
		},
	}

	cmd.Flags().StringVarP(&class, "classe", "c", "", "Restrict to a class (erros, studio, xwork, integracao)")
	cmd.Flags().IntVarP(&k, "k", "k", 5, "Number of results")

	return cmd
}

func searchPath(query, class string, k int) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("k", strconv.Itoa(k))
	if class != "" {
		params.Set("classe", class)
	}
	return "/search?" + params.Encode()
}

func runSearch(w io.Writer, api *APIClient, query, class string, k int, outputJSON bool) error {
	resp, err := api.Get(searchPath(query, class, k))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return printData(w, resp.Data)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if len(searchResp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "Found %d results:\n\n", len(searchResp.Results))
	for i, result := range searchResp.Results {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, titleColor.Sprint(result.Title), scoreColor.Sprintf("(%.3f)", result.Score))
		fmt.Fprintf(w, "   %s\n", truncate(strings.Join(strings.Fields(result.Chunk), " "), 160))
		fmt.Fprintf(w, "   %s\n", dimColor.Sprintf("classe: %s", result.Class))
		if result.Source != "" {
			fmt.Fprintf(w, "   %s\n", dimColor.Sprintf("link: %s", result.Source))
		}
		if i < len(searchResp.Results)-1 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
	}

	return nil
}
