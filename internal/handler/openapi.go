package handler

import (
	"net/http"
	"sync"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/openapi"
)

// OpenAPI serves the gateway's API description. The route table is static,
// so the document is generated and marshalled once on first request.
type OpenAPI struct {
	once sync.Once
	body []byte
	err  error
}

// NewOpenAPI creates an OpenAPI handler.
func NewOpenAPI() *OpenAPI {
	return &OpenAPI{}
}

// Serve writes the OpenAPI 3.1 document as JSON.
// GET /openapi.json
func (h *OpenAPI) Serve(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = openapi.Generate().MarshalJSON()
	})
	if h.err != nil {
		writeCode(w, model.CodeInternal)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body) //nolint:errcheck
}
