package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/plantrack/dataplane/pkg/aggregate"
	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/registry"
	"github.com/plantrack/dataplane/pkg/source"
)

type errorResponse struct {
	Error       string `json:"error"`
	Reauthorize bool   `json:"reauthorize,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become
// opaque 500s so internals never leak to the frontend.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *dataset.ValidationError
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, dataset.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dataset.ErrAlreadySyncing):
		status = http.StatusConflict
	case errors.Is(err, source.ErrFormat):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, source.ErrAuthExpired):
		status = http.StatusUnauthorized
		resp.Reauthorize = true
	case errors.Is(err, source.ErrUnavailable):
		status = http.StatusBadGateway
	default:
		s.log.Error("server: internal error", "error", err)
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dataset.Validationf("id", "not a valid dataset id")
	}
	return id, nil
}

type createSheetRequest struct {
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      struct {
		Kind         string `json:"kind"`
		DocumentID   string `json:"document_id"`
		SheetName    string `json:"sheet_name"`
		ConnectionID string `json:"connection_id"`
	} `json:"source"`
}

// handleCreate imports a dataset. Multipart bodies carry a static file
// upload; JSON bodies register a live sheet.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, dataset.Validationf("content-type", "missing or malformed"))
		return
	}

	var d *dataset.Dataset
	switch {
	case mediaType == "multipart/form-data":
		d, err = s.createFromUpload(r)
	case mediaType == "application/json":
		d, err = s.createFromJSON(r)
	default:
		err = dataset.Validationf("content-type", "expected multipart/form-data or application/json, got %s", mediaType)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) createFromUpload(r *http.Request) (*dataset.Dataset, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, dataset.Validationf("file", "upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		}
		return nil, dataset.Validationf("body", "malformed multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, dataset.Validationf("file", "missing file part")
	}
	defer file.Close()

	return s.cfg.Registry.CreateUpload(r.Context(), registry.CreateUploadParams{
		OrgID:       r.FormValue("org_id"),
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Filename:    header.Filename,
		SheetName:   r.FormValue("sheet_name"),
		Content:     file,
	})
}

func (s *Server) createFromJSON(r *http.Request) (*dataset.Dataset, error) {
	var req createSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, dataset.Validationf("body", "malformed json: %v", err)
	}
	if req.Source.Kind != string(dataset.SourceLiveSheet) {
		return nil, dataset.Validationf("source.kind", "json imports must use %q", dataset.SourceLiveSheet)
	}
	return s.cfg.Registry.CreateSheet(r.Context(), registry.CreateSheetParams{
		OrgID:        req.OrgID,
		Name:         req.Name,
		Description:  req.Description,
		DocumentID:   req.Source.DocumentID,
		SheetName:    req.Source.SheetName,
		ConnectionID: req.Source.ConnectionID,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		s.writeError(w, dataset.Validationf("org_id", "required"))
		return
	}
	list, err := s.cfg.Registry.List(r.Context(), orgID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.cfg.Registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	gen, err := s.cfg.Registry.Rows(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":   d,
		"schema":    gen.Schema,
		"row_count": len(gen.Rows),
	})
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	gen, err := s.cfg.Registry.Rows(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema": gen.Schema,
		"rows":   gen.Rows,
	})
}

// handleSync kicks off a resync and returns immediately. The caller polls
// the dataset's sync_status for the outcome. A dataset that is mid-sync or
// unknown is rejected up front.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.cfg.Registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if d.SyncStatus == dataset.SyncSyncing {
		s.writeError(w, dataset.ErrAlreadySyncing)
		return
	}

	go func() {
		// Detached from the request: the sync must finish even if the
		// client disconnects.
		ctx := context.WithoutCancel(r.Context())
		if err := s.cfg.Registry.Resync(ctx, id); err != nil && !errors.Is(err, dataset.ErrAlreadySyncing) {
			s.log.Warn("server: background sync failed", "dataset_id", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "syncing"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.cfg.Registry.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type aggregateRequest struct {
	GroupBy string `json:"group_by"`
	Value   string `json:"value"`
	Kind    string `json:"kind"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, dataset.Validationf("body", "malformed json: %v", err))
		return
	}
	kind, err := aggregate.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.GroupBy == "" {
		s.writeError(w, dataset.Validationf("group_by", "required"))
		return
	}

	entries, err := s.cfg.Registry.Aggregate(r.Context(), id, aggregate.Query{
		GroupBy: req.GroupBy,
		Value:   req.Value,
		Kind:    kind,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
