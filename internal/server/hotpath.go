package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	routex "github.com/dctx/routex/internal"
)

// modelPeek extracts the "model" field from a JSON request body without
// decoding the full (and dialect-specific) payload shape.
type modelPeek struct {
	Model string `json:"model"`
}

// handleMessages serves the Anthropic-native ingress: the canonical shape
// every transformer pipeline is built around.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.proxyRequest(w, r, "")
}

// handleChatCompletions serves OpenAI Chat Completions ingress. The body is
// passed to the proxy pipeline as received; it is not converted into the
// Anthropic shape on this route.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.proxyRequest(w, r, "")
}

// handleGeminiGenerate serves `/v1/models/{model}:generateContent`. Chi
// cannot match a literal ":" inside a path segment, so the whole segment is
// captured and split here.
func (s *server) handleGeminiGenerate(w http.ResponseWriter, r *http.Request) {
	seg := chi.URLParam(r, "modelAction")
	model, action, ok := strings.Cut(seg, ":")
	if !ok || action != "generateContent" {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown gemini action"))
		return
	}
	s.proxyRequest(w, r, model)
}

// proxyRequest is the shared hot-path adapter: resolve the model, build a
// RequestContext, and delegate everything else (routing, transform,
// failover, streaming, logging, tee) to the proxy engine.
func (s *server) proxyRequest(w http.ResponseWriter, r *http.Request, modelHint string) {
	body, ok := bodyFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse("request body not captured"))
		return
	}

	model := modelHint
	if model == "" {
		var peek modelPeek
		if err := json.Unmarshal(body, &peek); err == nil {
			model = peek.Model
		}
	}

	identity := routex.IdentityFromContext(r.Context())
	if identity != nil && !identity.Can(routex.PermUseModels) {
		writeJSON(w, http.StatusForbidden, errorResponse("model access not permitted"))
		return
	}

	rc := routex.RequestContext{
		Model:   model,
		Path:    r.URL.Path,
		Headers: r.Header,
	}
	if identity != nil {
		rc.UserID = identity.Subject
	}

	if err := s.deps.Engine.Do(r.Context(), w, r, rc, body); err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
	}
}
