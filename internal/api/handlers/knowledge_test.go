package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/service"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

type MockKnowledgeService struct {
	mock.Mock
}

func (m *MockKnowledgeService) Ingest(ctx context.Context, entries []domain.KnowledgeEntry) (service.IngestResult, error) {
	args := m.Called(ctx, entries)
	return args.Get(0).(service.IngestResult), args.Error(1)
}

func (m *MockKnowledgeService) IngestByClass(ctx context.Context, batches []domain.ClassBatch) (service.IngestResult, error) {
	args := m.Called(ctx, batches)
	return args.Get(0).(service.IngestResult), args.Error(1)
}

func (m *MockKnowledgeService) Search(ctx context.Context, input service.SearchInput) ([]domain.ScoredResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredResult), args.Error(1)
}

func (m *MockKnowledgeService) ListTitles(ctx context.Context, class domain.Class) ([]string, error) {
	args := m.Called(ctx, class)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockKnowledgeService) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockKnowledgeService) Stats() vectorstore.Stats {
	args := m.Called()
	return args.Get(0).(vectorstore.Stats)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestKnowledgeHandler_Ingest_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)

	mockSvc.On("Ingest", mock.Anything, mock.MatchedBy(func(entries []domain.KnowledgeEntry) bool {
		return len(entries) == 1 && entries[0].Title == "Erro 504" && entries[0].Class == domain.ClassErrors
	})).Return(service.IngestResult{Entries: 1, Records: 1, Rows: 1}, nil)

	body := `{"itens":[{"classe":"erros","titulo":"Erro 504","tratativa":"aguardar"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.Ingest(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var result service.IngestResult
	decodeData(t, w, &result)
	assert.Equal(t, 1, result.Rows)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeHandler_Ingest_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"itens":`},
		{"missing itens", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(MockKnowledgeService)
			handler := NewKnowledgeHandler(mockSvc)

			w := httptest.NewRecorder()
			handler.Ingest(w, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockSvc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
		})
	}
}

func TestKnowledgeHandler_Ingest_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", domain.NewValidationError("item 0: invalid class: foo"), http.StatusBadRequest},
		{"provider", domain.NewProviderError("failed to create embeddings", assert.AnError), http.StatusBadGateway},
		{"io", domain.NewIOError("failed to append corpus log", assert.AnError), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(MockKnowledgeService)
			handler := NewKnowledgeHandler(mockSvc)
			mockSvc.On("Ingest", mock.Anything, mock.Anything).Return(service.IngestResult{}, tt.err)

			w := httptest.NewRecorder()
			handler.Ingest(w, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"itens":[{"titulo":"x","classe":"erros"}]}`)))

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestKnowledgeHandler_IngestBulk(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)

	mockSvc.On("IngestByClass", mock.Anything, mock.MatchedBy(func(batches []domain.ClassBatch) bool {
		return len(batches) == 2 &&
			batches[0].Class == domain.ClassStudio &&
			batches[1].Class == domain.ClassXWork &&
			len(batches[1].Entries) == 2
	})).Return(service.IngestResult{Entries: 3, Records: 3, Rows: 3}, nil)

	body := `{"studio":[{"titulo":"Tela branca"}],"xwork":[{"titulo":"Login"},{"titulo":"Timeout"}],"notas":"ignorado"}`
	w := httptest.NewRecorder()
	handler.IngestBulk(w, httptest.NewRequest(http.MethodPost, "/ingest/bulk", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeHandler_IngestBulk_UnknownClass(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.IngestBulk(w, httptest.NewRequest(http.MethodPost, "/ingest/bulk", strings.NewReader(`{"suporte":[{"titulo":"x"}]}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "IngestByClass", mock.Anything, mock.Anything)
}

func TestKnowledgeHandler_Search_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)

	results := []domain.ScoredResult{{
		Record: domain.ChunkRecord{ID: "r1", Class: domain.ClassStudio, Title: "Tela branca", Chunk: "Título: Tela branca", Source: "Tela branca"},
		Score:  0.91,
	}}
	mockSvc.On("Search", mock.Anything, mock.MatchedBy(func(in service.SearchInput) bool {
		return in.Query == "tela branca" && in.K == 3 && in.Class != nil && *in.Class == domain.ClassStudio
	})).Return(results, nil)

	w := httptest.NewRecorder()
	handler.Search(w, httptest.NewRequest(http.MethodGet, "/search?q=tela+branca&k=3&classe=studio", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "tela branca", resp.Query)
	require.NotNil(t, resp.Class)
	assert.Equal(t, "studio", *resp.Class)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "r1", resp.Results[0].ID)
	assert.InDelta(t, 0.91, resp.Results[0].Score, 1e-9)
}

func TestKnowledgeHandler_Search_DefaultsAndEmpty(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)

	mockSvc.On("Search", mock.Anything, mock.MatchedBy(func(in service.SearchInput) bool {
		return in.K == service.DefaultResultCount && in.Class == nil
	})).Return([]domain.ScoredResult{}, nil)

	w := httptest.NewRecorder()
	handler.Search(w, httptest.NewRequest(http.MethodGet, "/search?q=qualquer", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"results":[]`)
	assert.Contains(t, w.Body.String(), `"classe":null`)
}

func TestKnowledgeHandler_Search_BadParams(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"non numeric k", "/search?q=x&k=abc"},
		{"unknown class", "/search?q=x&classe=financeiro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(MockKnowledgeService)
			handler := NewKnowledgeHandler(mockSvc)

			w := httptest.NewRecorder()
			handler.Search(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockSvc.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		})
	}
}

func TestKnowledgeHandler_Search_ValidationFromService(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)
	mockSvc.On("Search", mock.Anything, mock.Anything).Return(nil, domain.ErrEmptyQuery)

	w := httptest.NewRecorder()
	handler.Search(w, httptest.NewRequest(http.MethodGet, "/search?q=", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledgeHandler_List(t *testing.T) {
	t.Run("missing class", func(t *testing.T) {
		handler := NewKnowledgeHandler(new(MockKnowledgeService))
		w := httptest.NewRecorder()

		handler.List(w, httptest.NewRequest(http.MethodGet, "/list", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, missingClassMessage, decodeError(t, w))
	})

	t.Run("titles", func(t *testing.T) {
		mockSvc := new(MockKnowledgeService)
		handler := NewKnowledgeHandler(mockSvc)
		mockSvc.On("ListTitles", mock.Anything, domain.ClassXWork).Return([]string{"A", "B"}, nil)
		w := httptest.NewRecorder()

		handler.List(w, httptest.NewRequest(http.MethodGet, "/list?classe=xwork", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp TitlesResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "xwork", resp.Class)
		assert.Equal(t, []string{"A", "B"}, resp.Titles)
	})

	t.Run("empty", func(t *testing.T) {
		mockSvc := new(MockKnowledgeService)
		handler := NewKnowledgeHandler(mockSvc)
		mockSvc.On("ListTitles", mock.Anything, domain.ClassIntegration).Return([]string{}, nil)
		w := httptest.NewRecorder()

		handler.List(w, httptest.NewRequest(http.MethodGet, "/list?classe=integracao", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp MessageResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "Não há erros cadastrados para integracao no momento.", resp.Message)
	})
}

func TestKnowledgeHandler_StatsAndClear(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewKnowledgeHandler(mockSvc)
	mockSvc.On("Stats").Return(vectorstore.Stats{DataDir: "data", Rows: 4, Dim: 8, LogRows: 4, Generation: 2})
	mockSvc.On("Clear", mock.Anything).Return(nil)

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var stats vectorstore.Stats
	decodeData(t, w, &stats)
	assert.Equal(t, 4, stats.Rows)

	w = httptest.NewRecorder()
	handler.Clear(w, httptest.NewRequest(http.MethodDelete, "/index", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()

	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
