package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbrag/internal/api/handlers"
	"github.com/cloo-solutions/kbrag/internal/service"
	"github.com/cloo-solutions/kbrag/internal/tokenizer"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

// keywordEmbedder flags keyword presence so rankings are predictable.
type keywordEmbedder struct {
	keywords []string
}

func (e keywordEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(e.keywords))
		lower := strings.ToLower(text)
		for j, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := vectorstore.Open(t.TempDir(), vectorstore.Options{})
	require.NoError(t, err)

	provider := keywordEmbedder{keywords: []string{"504", "gateway", "login", "senha", "branca", "cache"}}
	knowledge := service.NewKnowledgeService(store, provider, service.NewRecordBuilder(tokenizer.Runes{}), service.KnowledgeServiceConfig{})
	chat := service.NewChatService(knowledge, service.DefaultAmbiguityGap, nil)

	return NewRouter(RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledge),
		ChatHandler:      handlers.NewChatHandler(chat),
		MaxBodyBytes:     64 * 1024,
	})
}

func do(t *testing.T, router http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

const seed = `{"itens":[
	{"classe":"erros","titulo":"Erro 504 Gateway","porque_ocorre":"servidor lento","tratativa":"aguardar","link_da_base":"https://kb/504","identificadores":["GW-504"]},
	{"classe":"erros","titulo":"Falha de login","porque_ocorre":"senha expirada","tratativa":"resetar senha"},
	{"classe":"studio","titulo":"Tela branca","resolucao":"limpar cache"}
]}`

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodGet, "/health", "")

	w := do(t, router, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kbrag_http_requests_total")
}

func TestRouter_IngestSearchList(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ingest", seed)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), data(t, w)["rows"])

	w = do(t, router, http.MethodGet, "/search?q=erro+504+gateway&k=2&classe=erros", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := data(t, w)
	assert.Equal(t, "erros", body["classe"])
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, "Erro 504 Gateway", results[0].(map[string]interface{})["titulo"])

	w = do(t, router, http.MethodGet, "/list?classe=erros", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"Erro 504 Gateway", "Falha de login"}, data(t, w)["titulos"])

	w = do(t, router, http.MethodGet, "/list?classe=xwork", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Não há erros cadastrados para xwork no momento.", data(t, w)["mensagem"])

	w = do(t, router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), data(t, w)["rows"])
}

func TestRouter_IngestRejectsInvalidEntryAtomically(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ingest", `{"itens":[{"classe":"erros","titulo":"ok"},{"classe":"rh","titulo":"bad"}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, router, http.MethodGet, "/stats", "")
	assert.Equal(t, float64(0), data(t, w)["rows"])
}

func TestRouter_IngestBulkYAML(t *testing.T) {
	router := newTestRouter(t)
	doc := "studio:\n  - titulo: Tela branca\n    resolucao: limpar cache\nxwork:\n  - titulo: Login xwork\n"

	w := do(t, router, http.MethodPost, "/ingest/bulk", doc)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), data(t, w)["entries"])
}

func TestRouter_SearchValidation(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		url  string
	}{
		{"blank query", "/search?q=++"},
		{"zero k", "/search?q=x&k=0"},
		{"unknown class", "/search?q=x&classe=rh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.url, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRouter_ListRequiresClass(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/list", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "informe ?classe=")
}

func TestRouter_Chat(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/ingest", seed).Code)

	t.Run("answer", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/chat", `{"query":"erro 504 gateway"}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := data(t, w)
		assert.Equal(t, "Erro 504 Gateway", body["titulo"])
		assert.Equal(t, "servidor lento", body["porque_ocorre"])
		assert.Equal(t, "https://kb/504", body["link_da_base"])
		assert.Equal(t, "", body["resolucao"])
	})

	t.Run("incomplete", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/chat", `{"query":"oi"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.MessageIncomplete, data(t, w)["mensagem"])
	})

	t.Run("list intent", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/chat", `{"query":"listar erros do studio"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []interface{}{"Tela branca"}, data(t, w)["titulos"])
	})

	t.Run("markdown", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/chat", `{"query":"listar erros","classe":"erros","mode":"markdown"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "- Erro 504 Gateway\n- Falha de login", w.Body.String())
	})
}

func TestRouter_ClearIndex(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/ingest", seed).Code)

	w := do(t, router, http.MethodDelete, "/index", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/search?q=erro+504", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data(t, w)["results"])
}

func TestRouter_BodyTooLarge(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/ingest", `{"itens":[{"titulo":"`+strings.Repeat("x", 70*1024)+`"}]}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
