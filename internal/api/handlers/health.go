package handlers

import (
	"net/http"

	"github.com/cloo-solutions/kbrag/internal/api"
)

// Health reports liveness. It does not touch the index.
func Health(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
