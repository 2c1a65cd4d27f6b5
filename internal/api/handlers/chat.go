package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbrag/internal/api"
	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/service"
)

const (
	ModeJSON     = "json"
	ModeMarkdown = "markdown"

	undocumented = "_Não documentado._"
)

type ChatResponder interface {
	Respond(ctx context.Context, input service.ChatInput) (*service.ChatReply, error)
}

type ChatHandler struct {
	svc ChatResponder
}

func NewChatHandler(svc ChatResponder) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	Query      string  `json:"query"`
	Class      *string `json:"classe"`
	Mode       string  `json:"mode"`
	K          int     `json:"k"`
	ListTitles bool    `json:"list_titles"`
}

type OptionsResponse struct {
	Message string   `json:"mensagem"`
	Options []string `json:"opcoes"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.BadBody(w, err)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	switch mode {
	case "", "auto":
		mode = ModeJSON
	case ModeJSON, ModeMarkdown:
	default:
		api.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid mode: %s", req.Mode))
		return
	}

	input := service.ChatInput{
		Query:      req.Query,
		K:          req.K,
		ListTitles: req.ListTitles,
	}
	if req.Class != nil && strings.TrimSpace(*req.Class) != "" {
		class, err := domain.ParseClass(*req.Class)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		input.Class = &class
	}

	reply, err := h.svc.Respond(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if mode == ModeMarkdown {
		api.Markdown(w, http.StatusOK, RenderMarkdown(reply))
		return
	}
	api.Success(w, http.StatusOK, RenderJSON(reply))
}

// RenderJSON returns the JSON body for a reply.
func RenderJSON(reply *service.ChatReply) interface{} {
	switch reply.Kind {
	case service.ReplyTitles:
		return TitlesResponse{Class: string(reply.Class), Titles: reply.Titles}
	case service.ReplyAmbiguous:
		return OptionsResponse{Message: reply.Message, Options: reply.Options}
	case service.ReplyAnswer:
		return reply.Answer
	default:
		return MessageResponse{Message: reply.Message}
	}
}

// RenderMarkdown returns the markdown text for a reply.
func RenderMarkdown(reply *service.ChatReply) string {
	switch reply.Kind {
	case service.ReplyIncomplete:
		return "**Solicitação incompleta**\n\n" + reply.Message
	case service.ReplyAskClass:
		return "**Confirmação necessária**\n\n" + reply.Message
	case service.ReplyTitles:
		lines := make([]string, len(reply.Titles))
		for i, t := range reply.Titles {
			lines[i] = "- " + t
		}
		return strings.Join(lines, "\n")
	case service.ReplyAmbiguous:
		lines := make([]string, len(reply.Options))
		for i, t := range reply.Options {
			lines[i] = fmt.Sprintf("%d. %s", i+1, t)
		}
		return "**Confirmação necessária**\n\n" + reply.Message + "\n\n" + strings.Join(lines, "\n")
	case service.ReplyAnswer:
		return renderAnswer(reply.Answer)
	default:
		return reply.Message
	}
}

func renderAnswer(a *service.ChatAnswer) string {
	link := ""
	if a.Source != "" {
		link = fmt.Sprintf("[%s](%s)", a.Source, a.Source)
	}
	parts := []string{
		section("Título", a.Title),
		section("Por que ocorre", a.Cause),
		section("Tratativa", a.Handling),
		section("Resolução", a.Resolution),
		section("Link da base", link),
	}
	return strings.Join(parts, "\n\n")
}

func section(name, value string) string {
	if value == "" {
		value = undocumented
	}
	return "**" + name + "**\n" + value
}
