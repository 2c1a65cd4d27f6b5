package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloo-solutions/kbrag/internal/api"
	"github.com/cloo-solutions/kbrag/internal/bootstrap"
	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/service"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

const missingClassMessage = "informe ?classe=erros|studio|xwork|integracao"

type KnowledgeService interface {
	Ingest(ctx context.Context, entries []domain.KnowledgeEntry) (service.IngestResult, error)
	IngestByClass(ctx context.Context, batches []domain.ClassBatch) (service.IngestResult, error)
	Search(ctx context.Context, input service.SearchInput) ([]domain.ScoredResult, error)
	ListTitles(ctx context.Context, class domain.Class) ([]string, error)
	Clear(ctx context.Context) error
	Stats() vectorstore.Stats
}

type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type IngestRequest struct {
	Items []domain.KnowledgeEntry `json:"itens"`
}

type SearchResultResponse struct {
	ID          string   `json:"id"`
	Class       string   `json:"classe"`
	Title       string   `json:"titulo"`
	Chunk       string   `json:"chunk"`
	Source      string   `json:"source"`
	Identifiers []string `json:"identificadores,omitempty"`
	Score       float64  `json:"score"`
}

type SearchResponse struct {
	Query   string                 `json:"query"`
	Class   *string                `json:"classe"`
	Results []SearchResultResponse `json:"results"`
}

type TitlesResponse struct {
	Class  string   `json:"classe"`
	Titles []string `json:"titulos"`
}

type MessageResponse struct {
	Message string `json:"mensagem"`
}

func resultToResponse(r domain.ScoredResult) SearchResultResponse {
	return SearchResultResponse{
		ID:          r.Record.ID,
		Class:       string(r.Record.Class),
		Title:       r.Record.Title,
		Chunk:       r.Record.Chunk,
		Source:      r.Record.Source,
		Identifiers: r.Record.Identifiers,
		Score:       r.Score,
	}
}

func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadBody(w, err)
		return
	}
	if req.Items == nil {
		api.Error(w, http.StatusBadRequest, "itens is required")
		return
	}

	result, err := h.svc.Ingest(r.Context(), req.Items)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

// IngestBulk accepts a document keyed by class, in JSON or YAML.
func (h *KnowledgeHandler) IngestBulk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.BadBody(w, err)
		return
	}

	batches, err := bootstrap.Decode(body)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.svc.IngestByClass(r.Context(), batches)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	input := service.SearchInput{
		Query: query.Get("q"),
		K:     service.DefaultResultCount,
	}

	if kStr := query.Get("k"); kStr != "" {
		k, err := strconv.Atoi(kStr)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		input.K = k
	}

	var classOut *string
	if raw, ok := query["classe"]; ok && len(raw) > 0 {
		class, err := domain.ParseClass(raw[0])
		if err != nil {
			api.HandleError(w, err)
			return
		}
		input.Class = &class
		s := string(class)
		classOut = &s
	}

	results, err := h.svc.Search(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{
		Query:   input.Query,
		Class:   classOut,
		Results: make([]SearchResultResponse, 0, len(results)),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, resultToResponse(res))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("classe"))
	if raw == "" {
		api.Error(w, http.StatusBadRequest, missingClassMessage)
		return
	}
	class, err := domain.ParseClass(raw)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	titles, err := h.svc.ListTitles(r.Context(), class)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if len(titles) == 0 {
		api.Success(w, http.StatusOK, MessageResponse{Message: service.EmptyListMessage(class)})
		return
	}

	api.Success(w, http.StatusOK, TitlesResponse{Class: string(class), Titles: titles})
}

func (h *KnowledgeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.svc.Stats())
}

func (h *KnowledgeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
