package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hassaanmuzammil/pro-rag/history"
	"github.com/hassaanmuzammil/pro-rag/loader"
	"github.com/hassaanmuzammil/pro-rag/rag"
	"github.com/hassaanmuzammil/pro-rag/types"
)

// Handler serves the pipeline over HTTP.
type Handler struct {
	pipeline *rag.Pipeline
	loaders  *loader.Registry
	history  history.Store
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]*rag.CancelToken
}

// NewHandler wires the HTTP surface.
func NewHandler(pipeline *rag.Pipeline, loaders *loader.Registry, hist history.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline: pipeline,
		loaders:  loaders,
		history:  hist,
		logger:   logger.With(zap.String("component", "api")),
		cancels:  make(map[string]*rag.CancelToken),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/documents", h.handleIndex)
	mux.HandleFunc("GET /v1/documents", h.handleListDocuments)
	mux.HandleFunc("DELETE /v1/documents", h.handleDelete)
	mux.HandleFunc("POST /v1/retrieve", h.handleRetrieve)
	mux.HandleFunc("POST /v1/ask", h.handleAsk)
	mux.HandleFunc("POST /v1/ask/stop", h.handleStop)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.handleClearSession)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"status": "ok"})
}

// IndexRequest indexes one document: either inline content or a path the
// loader registry can read.
type IndexRequest struct {
	Source  string `json:"source"`
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body", h.logger, err)
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		WriteError(w, http.StatusBadRequest, "source is required", h.logger, nil)
		return
	}

	var docs []types.Document
	switch {
	case req.Content != "":
		docs = []types.Document{{Content: req.Content, Metadata: map[string]any{types.MetaSource: req.Source}}}
	case req.Path != "":
		loaded, err := h.loaders.Load(r.Context(), req.Path)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("load %s failed", req.Path), h.logger, err)
			return
		}
		docs = loaded
	default:
		WriteError(w, http.StatusBadRequest, "content or path is required", h.logger, nil)
		return
	}

	if err := h.pipeline.Index(r.Context(), req.Source, docs); err != nil {
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("indexing %s failed", req.Source), h.logger, err)
		return
	}
	WriteSuccess(w, map[string]string{"source": req.Source})
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	sources, err := h.pipeline.ListDocuments(r.Context())
	if err != nil {
		WriteError(w, http.StatusBadGateway, "listing documents failed", h.logger, err)
		return
	}
	WriteSuccess(w, sources)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if strings.TrimSpace(source) == "" {
		WriteError(w, http.StatusBadRequest, "source query parameter is required", h.logger, nil)
		return
	}
	if err := h.pipeline.DeleteDocument(r.Context(), source); err != nil {
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("deleting %s failed", source), h.logger, err)
		return
	}
	WriteSuccess(w, map[string]string{"source": source})
}

// RetrieveRequest runs the retrieval stage on its own.
type RetrieveRequest struct {
	Query  string `json:"query"`
	Expand bool   `json:"expand,omitempty"`
}

func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body", h.logger, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, http.StatusBadRequest, "query is required", h.logger, nil)
		return
	}
	results, err := h.pipeline.Retrieve(r.Context(), req.Query, req.Expand)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "retrieval failed", h.logger, err)
		return
	}
	WriteSuccess(w, results)
}

// AskRequest asks one question inside a session.
type AskRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Expand    bool   `json:"expand,omitempty"`
}

// handleAsk streams the answer as server-sent events: one data event per
// fragment, then "[DONE]". A fallback reply is a single event.
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body", h.logger, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, http.StatusBadRequest, "message is required", h.logger, nil)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported", h.logger, nil)
		return
	}

	recent, err := h.history.Recent(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Warn("history read degraded", zap.Error(err))
		recent = nil
	}

	cancel := h.registerCancel(req.SessionID)
	defer h.unregisterCancel(req.SessionID)

	reply := h.pipeline.Generate(r.Context(), req.Message, recent, req.Expand, cancel)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var answer strings.Builder
	emit := func(fragment string) {
		fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(fragment, "\n", "\ndata: "))
		flusher.Flush()
	}

	if reply.Fallback != "" {
		emit(reply.Fallback)
		answer.WriteString(reply.Fallback)
	} else {
		for fragment := range reply.Tokens {
			emit(fragment)
			answer.WriteString(fragment)
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	// The possibly partial answer becomes part of the session history.
	if err := h.history.Append(r.Context(), req.SessionID,
		types.ChatTurn{Role: types.RoleUser, Content: req.Message},
		types.ChatTurn{Role: types.RoleAssistant, Content: answer.String()},
	); err != nil {
		h.logger.Warn("history append failed", zap.Error(err))
	}
}

// StopRequest cancels a session's in-flight answer stream.
type StopRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body", h.logger, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	h.mu.Lock()
	token := h.cancels[req.SessionID]
	h.mu.Unlock()
	if token == nil {
		WriteError(w, http.StatusNotFound, "no active stream for session", h.logger, nil)
		return
	}
	token.Cancel()
	WriteSuccess(w, map[string]string{"session_id": req.SessionID})
}

func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.history.Clear(r.Context(), id); err != nil {
		WriteError(w, http.StatusBadGateway, "clearing session failed", h.logger, err)
		return
	}
	WriteSuccess(w, map[string]string{"session_id": id})
}

func (h *Handler) registerCancel(sessionID string) *rag.CancelToken {
	token := rag.NewCancelToken()
	h.mu.Lock()
	h.cancels[sessionID] = token
	h.mu.Unlock()
	return token
}

func (h *Handler) unregisterCancel(sessionID string) {
	h.mu.Lock()
	delete(h.cancels, sessionID)
	h.mu.Unlock()
}
