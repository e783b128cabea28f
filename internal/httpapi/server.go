package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/babeldoc-web/api-go/internal/auth"
	"github.com/example/babeldoc-web/api-go/internal/blob"
	"github.com/example/babeldoc-web/api-go/internal/broadcast"
	"github.com/example/babeldoc-web/api-go/internal/jobs"
	"github.com/example/babeldoc-web/api-go/internal/model"
	"github.com/example/babeldoc-web/api-go/internal/sweep"
)

const maxUpload = 200 << 20

type Server struct {
	Jobs        *jobs.Service
	Sweeper     sweep.Sweeper
	Broadcaster *broadcast.Broadcaster
	Auth        *auth.Verifier
	Uploads     blob.LocalFS
	Log         logrus.FieldLogger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.Log != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.Log, NoColor: true}))
	} else {
		r.Use(middleware.Logger)
	}
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/files", s.handleUpload)
		r.Get("/files/stats", s.handleFileStats)
		r.Post("/files/cleanup", s.handleCleanup)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs", s.handleDeleteJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/jobs/{id}/download/{kind}", s.handleDownload)
		r.Get("/jobs/{id}/ws", s.handleProgress)
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ownerKey struct{}

// authenticate resolves the owner before any handler runs. Browsers cannot
// set headers on websocket upgrades, so those may pass ?token= instead.
func (s Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			owner string
			err   error
		)
		if tok := r.URL.Query().Get("token"); tok != "" && r.Header.Get("Authorization") == "" && isUpgrade(r) {
			owner, err = s.Auth.Owner(tok)
		} else {
			owner, err = s.Auth.OwnerFromHeader(r.Header.Get("Authorization"))
		}
		if err != nil {
			writeErr(w, http.StatusUnauthorized, auth.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerOf(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (s Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("missing 'file' field: %w", err))
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".pdf" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("only PDF files are accepted, got %q", ext))
		return
	}

	id := uuid.NewString()
	if _, err := s.Uploads.Put(id+".pdf", file); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id":  id,
		"filename": header.Filename,
		"size":     header.Size,
	})
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := decodeJSON(r, &sub); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Jobs.Submit(r.Context(), ownerOf(r), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job_id": id, "status": "started"})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Jobs.Status(r.Context(), ownerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Jobs.List(r.Context(), ownerOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]jobResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, jobResponse{Record: rec, FileStatus: jobs.Files(rec)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// jobResponse is a record plus the on-disk state of its artifacts.
type jobResponse struct {
	model.Record
	FileStatus jobs.FileStatus
}

func (j jobResponse) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(j.Record)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	status, err := json.Marshal(j.FileStatus)
	if err != nil {
		return nil, err
	}
	fields["file_status"] = status
	return json.Marshal(fields)
}

func (s Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Jobs.Delete(r.Context(), ownerOf(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

func (s Server) handleDeleteJobs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Jobs.DeleteMany(r.Context(), ownerOf(r), body.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeErr(w, http.StatusNotFound, errors.New("no matching jobs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")
	rec, err := s.Jobs.Status(r.Context(), ownerOf(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	res, ok := rec.Result()
	if !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("translation %s is %s", id, rec.Status()))
		return
	}

	var path string
	switch kind {
	case "mono":
		path = res.MonoPath
	case "dual":
		path = res.DualPath
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid file type %q", kind))
		return
	}
	if path == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no %s output for %s", kind, id))
		return
	}
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeErr(w, http.StatusNotFound, fmt.Errorf("%s output of %s no longer exists", kind, id))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	contentType, err := detectContentType(f, path)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": fmt.Sprintf("%s_%s%s", id, kind, filepath.Ext(path)),
	}))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.Copy(w, f)
}

func (s Server) handleFileStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Sweeper.Stats(r.Context(), ownerOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var opts sweep.Options
	if err := decodeJSON(r, &opts); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.Sweeper.Run(r.Context(), ownerOf(r), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// detectContentType sniffs the first bytes and prefers the extension's type
// when sniffing is inconclusive. f is rewound afterwards.
func detectContentType(f io.ReadSeeker, name string) (string, error) {
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	contentType := http.DetectContentType(buf[:n])
	if ext := filepath.Ext(name); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			if contentType == "application/octet-stream" || strings.HasPrefix(contentType, "text/plain") {
				contentType = mimeType
			}
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return contentType, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
