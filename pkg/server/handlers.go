package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/pipeline"
)

// maxUploadBytes caps request bodies before the pipeline's own size
// gate runs.
const maxUploadBytes = 64 << 20

type errorEnvelope struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type ingestRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

type queryRequest struct {
	Query     string                 `json:"query"`
	Question  string                 `json:"question"`
	TopK      int                    `json:"top_k,omitempty"`
	Filters   *document.SearchFilter `json:"filters,omitempty"`
	UseRerank *bool                  `json:"use_rerank,omitempty"`
	UseHyde   *bool                  `json:"use_hyde,omitempty"`
	View      string                 `json:"view,omitempty"`
}

func (q *queryRequest) text() string {
	if q.Query != "" {
		return q.Query
	}
	return q.Question
}

func (q *queryRequest) searchRequest() pipeline.SearchRequest {
	return pipeline.SearchRequest{
		Query:     q.text(),
		TopK:      q.TopK,
		Filter:    q.Filters,
		UseRerank: q.UseRerank,
		UseHyde:   q.UseHyde,
		View:      q.View,
	}
}

// handleIngest accepts a multipart upload under the "file" field or a
// JSON body with inline content. Concurrency is bounded; saturated
// slots shed load with a busy error.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, hints, err := readIngestBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		writeError(w, document.NewError(document.KindCapacity, "ingest", "too many concurrent ingests"))
		return
	}

	result, err := s.deps.Pipeline.Ingest(r.Context(), data, hints)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readIngestBody(w http.ResponseWriter, r *http.Request) ([]byte, pipeline.Hints, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, pipeline.Hints{}, document.WrapError(document.KindValidation, "ingest", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, pipeline.Hints{}, document.WrapError(document.KindValidation, "ingest", err)
		}
		return data, pipeline.Hints{
			Filename: header.Filename,
			Kind:     r.FormValue("kind"),
			MIME:     header.Header.Get("Content-Type"),
		}, nil
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pipeline.Hints{}, document.WrapError(document.KindValidation, "ingest", err)
	}
	if req.Content == "" {
		return nil, pipeline.Hints{}, document.NewError(document.KindValidation, "ingest", "content is required")
	}
	return []byte(req.Content), pipeline.Hints{Filename: req.Filename, Kind: req.Kind}, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, document.WrapError(document.KindValidation, "search", err))
		return
	}
	if req.text() == "" {
		writeError(w, document.NewError(document.KindValidation, "search", "query is required"))
		return
	}

	ranked, err := s.deps.Query.Search(r.Context(), req.searchRequest())
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyCorpus) {
			writeJSON(w, http.StatusConflict, errorEnvelope{Error: err.Error(), Kind: "empty_corpus"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": ranked,
		"count":   len(ranked),
	})
}

// handleChat always answers 200 when the pipeline ran: a refusal is a
// business outcome, not a transport failure.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, document.WrapError(document.KindValidation, "chat", err))
		return
	}
	if req.text() == "" {
		writeError(w, document.NewError(document.KindValidation, "chat", "question is required"))
		return
	}

	result, err := s.deps.Query.Chat(r.Context(), req.searchRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	rec, err := s.deps.Corpus.Registry().GetDocument(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := s.deps.Corpus.Delete(r.Context(), docID); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Events.Info("document_deleted", "doc_id", docID)
	writeJSON(w, http.StatusOK, map[string]string{"doc_id": docID, "status": "deleted"})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	msgs, err := s.deps.Corpus.Registry().Thread(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  msgs,
	})
}

func (s *Server) handleEntityTimeline(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	name := chi.URLParam(r, "name")
	entries, err := s.deps.Corpus.Registry().EntityTimeline(r.Context(), kind, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"name":     name,
		"timeline": entries,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Corpus.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]any{"corpus": stats}
	if s.deps.Health != nil {
		out["health"] = s.deps.Health.Overall(r.Context()).Status
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth reports the aggregate; an unhealthy component flips the
// status code so load balancers can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	report := s.deps.Health.Overall(r.Context())
	code := http.StatusOK
	if report.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes and emits
// the standard envelope.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, corpus.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: err.Error(), Kind: string(document.KindNotFound)})
		return
	}
	kind := document.KindOf(err)
	status := statusForKind(kind)
	if kind == "" {
		kind = "internal"
	}
	writeJSON(w, status, errorEnvelope{Error: err.Error(), Kind: string(kind)})
}

func statusForKind(kind document.ErrorKind) int {
	switch kind {
	case document.KindValidation:
		return http.StatusBadRequest
	case document.KindParse:
		return http.StatusUnprocessableEntity
	case document.KindCapacity:
		return http.StatusTooManyRequests
	case document.KindBudget:
		return http.StatusPaymentRequired
	case document.KindProvider:
		return http.StatusServiceUnavailable
	case document.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
