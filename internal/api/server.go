package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"dsstrack/internal/analysis"
	"dsstrack/internal/config"
	"dsstrack/internal/models"
	"dsstrack/internal/report"
	"dsstrack/internal/session"
	"dsstrack/internal/table"
	"dsstrack/internal/util"
	"dsstrack/internal/workflows"
)

// RunLister reads persisted analysis runs. storage.RunRepo satisfies it.
type RunLister interface {
	ListRunsBySession(ctx context.Context, sessionID string) ([]models.AnalysisRun, error)
}

// ProgressReporter is implemented by analyzers that can report on a run while
// it is in flight.
type ProgressReporter interface {
	Progress(ctx context.Context, runID string) (workflows.AnalyzeProgress, error)
}

type Server struct {
	cfg      config.Config
	store    *session.Store
	analyzer analysis.Analyzer
	runs     RunLister
}

// NewServer wires the HTTP surface. runs may be nil when no database is
// configured.
func NewServer(cfg config.Config, store *session.Store, analyzer analysis.Analyzer, runs RunLister) *Server {
	return &Server{cfg: cfg, store: store, analyzer: analyzer, runs: runs}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/analyze/", s.handleAnalyzeScoped)
	mux.HandleFunc("/review", s.handleReview)
	mux.HandleFunc("/export/", s.handleExport)
	mux.HandleFunc("/session/", s.handleSessionScoped)
	return withCORS(s.cfg.CORSOrigin, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"embedder_ready": s.analyzer.Ready(),
		"sessions":       s.store.Len(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	fh, ok := uploadedFile(r.MultipartForm)
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	filename := filepath.Base(fh.Filename)
	tbl, err := table.Read(filename, data)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	sum := util.SHA256Hex(data)
	sess := s.store.Create(filename, sum, tbl)

	preview := tbl.Head(s.cfg.PreviewRows)
	for i, rec := range preview {
		preview[i] = util.SanitizeJSON(rec).(map[string]any)
	}
	writeJSON(w, http.StatusOK, models.UploadSummary{
		SessionID: sess.ID,
		Filename:  filename,
		RowCount:  tbl.Len(),
		Columns:   tbl.Columns,
		Preview:   preview,
		SHA256:    sum,
	})
}

type analyzeRequest struct {
	SessionID string   `json:"session_id"`
	Columns   []string `json:"columns"`
	Threshold *float64 `json:"similarity_threshold"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.SessionID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("session_id is required"))
		return
	}
	threshold := s.cfg.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	run, err := s.store.Analyze(r.Context(), req.SessionID, req.Columns, threshold)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	sess, err := s.store.Get(req.SessionID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	groups := make([]map[string]any, 0, len(run.Groups))
	for _, g := range run.Groups {
		groups = append(groups, groupView(sess.Table, g, models.VerdictPending))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":                 sess.ID,
		"run_id":                     run.ID,
		"total_rows":                 sess.Table.Len(),
		"duplicate_groups":           len(run.Groups),
		"total_potential_duplicates": run.RowsInGroups(),
		"similarity_threshold":       run.Threshold,
		"provider":                   run.Provider,
		"groups":                     groups,
	})
}

func (s *Server) handleAnalyzeScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/analyze/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	pr, ok := s.analyzer.(ProgressReporter)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("progress is only tracked for workflow analyses"))
		return
	}
	prog, err := pr.Progress(r.Context(), parts[0])
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

type reviewRequest struct {
	SessionID   string `json:"session_id"`
	DuplicateID string `json:"duplicate_id"`
	IsDuplicate *bool  `json:"is_duplicate"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.SessionID == "" || req.DuplicateID == "" || req.IsDuplicate == nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("session_id, duplicate_id and is_duplicate are required"))
		return
	}
	res, err := s.store.Review(req.SessionID, req.DuplicateID, *req.IsDuplicate)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     req.SessionID,
		"duplicate_id":   res.GroupID,
		"is_duplicate":   *req.IsDuplicate,
		"verdict":        res.Verdict,
		"total_reviewed": res.Tally.Reviewed(),
		"total_groups":   res.Total,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/export/"), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	sess, rep, err := s.store.Export(sessionID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		writeJSON(w, http.StatusOK, rep.ToJSON())
		return
	}
	b, err := rep.XLSX()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	outPath := filepath.Join(util.SafeJoin(s.cfg.DataOutRoot, sess.ID), "report.xlsx")
	if err := util.WriteFileAtomic(outPath, b); err != nil {
		log.Printf("session %s: keep report copy failed: %v", sess.ID, err)
	}
	name := util.FileStem(sess.Filename) + "_duplicate_report.xlsx"
	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleSessionScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/session/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" || len(parts) > 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	sessionID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			st, err := s.store.Status(sessionID)
			if err != nil {
				writeDomainErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, statusView(st))
		case http.MethodDelete:
			if err := s.store.Discard(sessionID); err != nil {
				writeDomainErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "discarded": true})
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	switch parts[1] {
	case "groups":
		sess, err := s.store.Get(sessionID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		run := sess.Current()
		if run == nil {
			writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "groups": []any{}})
			return
		}
		groups := make([]map[string]any, 0, len(run.Groups))
		for _, g := range run.Groups {
			groups = append(groups, groupView(sess.Table, g, run.Ledger.Verdict(g.ID)))
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "run_id": run.ID, "groups": groups})
	case "runs":
		if _, err := s.store.Get(sessionID); err != nil {
			writeDomainErr(w, err)
			return
		}
		if s.runs == nil {
			writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "runs": []any{}})
			return
		}
		runs, err := s.runs.ListRunsBySession(r.Context(), sessionID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "runs": runs})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// groupView renders a group with each member's row data and its sanitized
// scores toward the other members.
func groupView(tbl *table.Table, g models.DuplicateGroup, verdict models.Verdict) map[string]any {
	rows := make([]map[string]any, 0, len(g.Members))
	for _, m := range g.Members {
		scores := map[string]any{}
		for _, other := range g.Members {
			if other == m {
				continue
			}
			if sc, ok := g.Score(m, other); ok {
				scores[fmt.Sprint(other)] = util.SanitizeJSON(sc)
			}
		}
		rows = append(rows, map[string]any{
			"original_index":    m,
			"is_anchor":         m == g.Anchor(),
			"data":              util.SanitizeJSON(tbl.Record(m)),
			"similarity_scores": scores,
		})
	}
	return map[string]any{
		"duplicate_id":   g.ID,
		"anchor_index":   g.Anchor(),
		"member_indices": g.Members,
		"verdict":        verdict,
		"rows":           rows,
	}
}

func statusView(st models.SessionStatus) map[string]any {
	return map[string]any{
		"session_id":       st.SessionID,
		"filename":         st.Filename,
		"total_rows":       st.RowCount,
		"columns":          st.Columns,
		"selected_columns": nonNil(st.AnalyzedColumns),
		"analyzed":         st.Analyzed,
		"run_id":           st.RunID,
		"threshold":        st.Threshold,
		"duplicate_groups": st.GroupCount,
		"reviewed":         st.Verdicts.Reviewed(),
		"pending_review":   st.Verdicts.Pending,
		"verdicts":         st.Verdicts,
		"rows_removed":     st.RowsRemoved,
		"created_at":       st.CreatedAt,
		"last_used_at":     st.LastUsedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func uploadedFile(form *multipart.Form) (*multipart.FileHeader, bool) {
	if form == nil {
		return nil, false
	}
	if fhs := form.File["file"]; len(fhs) > 0 {
		return fhs[0], true
	}
	for _, v := range form.File {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// writeDomainErr picks the status from the error taxonomy in util.
func writeDomainErr(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DSS-API-4000"

	switch {
	case status >= 500:
		switch {
		case errors.Is(err, util.ErrUnavailable):
			return apiError{
				Code:    "DSS-API-5030",
				Message: "Embedding model is not ready. Please try again in a few moments.",
			}
		case errors.Is(err, util.ErrInvariant):
			log.Printf("invariant violation: %v", err)
			return apiError{
				Code:    "DSS-CORE-5001",
				Message: "Internal consistency check failed. Re-run the analysis and report this issue.",
			}
		default:
			if err != nil {
				log.Printf("internal error: %v", err)
			}
			return apiError{
				Code:    "DSS-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "DSS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "DSS-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "DSS-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "DSS-API-4013"
		msg = "Uploaded file is too large."
	}

	// 4xx messages from the core name the offending input and are safe to show.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case errors.Is(err, util.ErrNotFound), errors.Is(err, util.ErrValidation):
			msg = userMessage(err)
		case strings.Contains(strings.ToLower(err.Error()), "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(err.Error(), "required"), strings.Contains(err.Error(), "no file provided"):
			msg = err.Error()
		}
	}

	return apiError{Code: code, Message: msg}
}

// userMessage drops the sentinel prefix from a wrapped taxonomy error.
func userMessage(err error) string {
	s := err.Error()
	for _, sentinel := range []error{util.ErrNotFound, util.ErrValidation} {
		s = strings.TrimPrefix(s, sentinel.Error()+": ")
	}
	return s
}

func withCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
