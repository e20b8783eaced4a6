package web

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
)

const (
	// multipartMemory is the part of a multipart body kept in memory; the
	// rest spills to temp files.
	multipartMemory = 8 << 20

	// multipartOverhead allows for boundaries and part headers on top of
	// the file size limit.
	multipartOverhead = 64 << 10
)

type sessionListResponse struct {
	Sessions []core.ImportSession `json:"sessions"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

// handleUpload accepts a multipart upload in the "file" field and returns the
// new Pending session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	ctx := WithRequestMetadata(r.Context(), r)
	session, err := s.service.Upload(ctx, actorFromRequest(r), core.UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, session)
}

// handleListImports lists sessions newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", core.DefaultListLimit)
	if err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}
	switch {
	case limit == 0:
		limit = core.DefaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	sessions, err := s.service.ListSessions(r.Context(), core.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []core.ImportSession{}
	}

	writeJSON(w, r, http.StatusOK, sessionListResponse{Sessions: sessions, Limit: limit, Offset: offset})
}

const maxListLimit = 500

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

// handleListRows returns the session with rows selected by ?filter=
// (all, valid, invalid, new, update).
func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	preview, err := s.service.Preview(r.Context(), id, core.ParseRowFilter(r.URL.Query().Get("filter")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if preview.Rows == nil {
		preview.Rows = []core.ImportRow{}
	}
	writeJSON(w, r, http.StatusOK, preview)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	entries, err := s.service.AuditTrail(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// handleCommit commits a Pending session. ?skipInvalid=true commits the valid
// rows of a session that also has invalid ones.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var opts core.CommitOptions
	if v := r.URL.Query().Get("skipInvalid"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			respondBadRequest(w, r, "skipInvalid must be true or false")
			return
		}
		opts.SkipInvalid = skip
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Commit(ctx, actorFromRequest(r), id, opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	session, err := s.service.Cancel(ctx, actorFromRequest(r), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

// handleExportInvalidRows downloads the invalid rows of a session as
// <original>-errors.csv. The file is built in memory so that a failure can
// still be reported as JSON.
func (s *Server) handleExportInvalidRows(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := s.service.ExportInvalidRows(r.Context(), id, &buf)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", id).Debug("invalid rows exported", "rows", n)
	writeCSV(w, r, core.ErrorsFileName(session.OriginalFileName), buf.Bytes())
}

// handleDownloadTemplate serves an empty import file with the header row.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := core.WriteTemplate(&buf); err != nil {
		respondError(w, r, err)
		return
	}
	writeCSV(w, r, "license-import-template.csv", buf.Bytes())
}

func writeCSV(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(r.Context()).Warn("csv write failed", "file", name, "error", err)
	}
}

// sessionID parses the {id} URL parameter, writing a 400 when it is malformed.
func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondBadRequest(w, r, fmt.Sprintf("invalid import id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
