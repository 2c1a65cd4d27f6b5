package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ChatRequest mirrors the body of POST /chat.
type ChatRequest struct {
	Query      string  `json:"query"`
	Class      *string `json:"classe,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	K          int     `json:"k,omitempty"`
	ListTitles bool    `json:"list_titles,omitempty"`
}

// ChatReply is the union of every JSON chat reply shape.
type ChatReply struct {
	Message    string   `json:"mensagem,omitempty"`
	Options    []string `json:"opcoes,omitempty"`
	Class      string   `json:"classe,omitempty"`
	Titles     []string `json:"titulos,omitempty"`
	Title      string   `json:"titulo,omitempty"`
	Cause      string   `json:"porque_ocorre,omitempty"`
	Handling   string   `json:"tratativa,omitempty"`
	Resolution string   `json:"resolucao,omitempty"`
	Source     string   `json:"link_da_base,omitempty"`
}

// ChatCmd creates the chat command.
func ChatCmd() *cobra.Command {
	var (
		class      string
		k          int
		markdown   bool
		listTitles bool
	)

	cmd := &cobra.Command{
		Use:   "chat <pergunta>",
		Short: "Ask the knowledge base",
		Long:  "Sends a question to /chat and prints the answer, the disambiguation options, or the titles of a class.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ChatRequest{
				Query:      strings.Join(args, " "),
				K:          k,
				ListTitles: listTitles,
			}
			if class != "" {
				req.Class = &class
			}
			if markdown {
				req.Mode = "markdown"
			}
			api := NewAPIClientWithCmd(cmd)
			return runChat(cmd.OutOrStdout(), api, req, wantJSON(cmd))
		},
	}

	cmd.Flags().StringVarP(&class, "classe", "c", "", "Class to answer from (erros, studio, xwork, integracao)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of candidates to retrieve (server default when 0)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Ask the server for a markdown answer")
	cmd.Flags().BoolVar(&listTitles, "list-titles", false, "List titles instead of answering")

	return cmd
}

func runChat(w io.Writer, api *APIClient, req ChatRequest, outputJSON bool) error {
	resp, err := api.Post("/chat", req)
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	if resp.Text != "" {
		fmt.Fprintln(w, resp.Text)
		return nil
	}

	if outputJSON {
		return printData(w, resp.Data)
	}

	var reply ChatReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return fmt.Errorf("failed to parse chat reply: %w", err)
	}

	switch {
	case reply.Title != "":
		printAnswer(w, reply)
	case reply.Titles != nil:
		fmt.Fprintf(w, "%s\n", titleColor.Sprint(reply.Class))
		for _, title := range reply.Titles {
			fmt.Fprintf(w, "- %s\n", title)
		}
	case len(reply.Options) > 0:
		fmt.Fprintln(w, warnColor.Sprint(reply.Message))
		for i, option := range reply.Options {
			fmt.Fprintf(w, "%d. %s\n", i+1, option)
		}
	default:
		fmt.Fprintln(w, reply.Message)
	}
	return nil
}

func printAnswer(w io.Writer, reply ChatReply) {
	sections := []struct {
		label string
		value string
	}{
		{"Título", reply.Title},
		{"Por que ocorre", reply.Cause},
		{"Tratativa", reply.Handling},
		{"Resolução", reply.Resolution},
		{"Link da base", reply.Source},
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, titleColor.Sprint(s.label))
		if s.value == "" {
			fmt.Fprintln(w, dimColor.Sprint("Não documentado."))
			continue
		}
		fmt.Fprintln(w, s.value)
	}
}
