package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"orderbatch/internal/batching"
	"orderbatch/internal/ingest"
	"orderbatch/internal/model"
)

// OrdersHandler handles POST/GET /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Orders []model.OrderIn `json:"orders"`
		}
		if err := readJSON(w, r, s.cfg.HTTP.MaxUploadBytes, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateOrders(req.Orders); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid orders", err.Error(), r.URL.Path)
			return
		}
		orders := make([]model.Order, len(req.Orders))
		for i, in := range req.Orders {
			orders[i] = in.Order()
		}
		res, err := s.Store.InsertOrders(r.Context(), orders)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	case http.MethodGet:
		q := r.URL.Query()
		status, err := parseStatus(q.Get("status"))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid status", err.Error(), r.URL.Path)
			return
		}
		limit, err := parseOptionalInt(q.Get("limit"), "limit")
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
			return
		}
		items, next, err := s.Store.ListOrders(r.Context(), status, q.Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// UploadHandler handles POST /upload: a multipart "file" field holding a CSV or XLSX sheet.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Missing file", err.Error(), r.URL.Path)
		return
	}
	defer func() { _ = file.Close() }()

	parser, err := ingest.ForFile(hdr.Filename, hdr.Header.Get("Content-Type"))
	if err != nil {
		writeProblem(w, http.StatusUnsupportedMediaType, "Unsupported file", err.Error(), r.URL.Path)
		return
	}
	parsed, err := parser.Parse(file)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Unreadable file", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Store.InsertOrders(r.Context(), parsed.Orders)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
		return
	}
	s.log.Info().Str("file", hdr.Filename).Str("format", parser.Name()).Int("created", res.Created).
		Int("skipped", res.Skipped).Int("bad_rows", len(parsed.Skipped)).Msg("orders uploaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "Uploaded",
		"import_id": res.ImportID,
		"created":   res.Created,
		"skipped":   res.Skipped,
		"bad_rows":  parsed.Skipped,
	})
}

// GenerateBatchesHandler handles POST /generate-batches (derived cluster count).
func (s *Server) GenerateBatchesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := batching.Request{Mode: batching.ModeDerived}
	q := r.URL.Query()
	size, err := parseOptionalInt(q.Get("group_size"), "group_size")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid group_size", err.Error(), r.URL.Path)
		return
	}
	req.GroupSize = size
	// n_clusters switches this endpoint to explicit mode, matching /batches/generate
	if q.Has("n_clusters") {
		k, err := parseClusters(q.Get("n_clusters"))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid n_clusters", err.Error(), r.URL.Path)
			return
		}
		req = batching.Request{Mode: batching.ModeExplicit, Clusters: k}
	}
	s.generate(w, r, req)
}

// BatchesGenerateHandler handles POST /batches/generate?n_clusters=K (explicit cluster count).
func (s *Server) BatchesGenerateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	k, err := parseClusters(r.URL.Query().Get("n_clusters"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid n_clusters", err.Error(), r.URL.Path)
		return
	}
	s.generate(w, r, batching.Request{Mode: batching.ModeExplicit, Clusters: k})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, req batching.Request) {
	sum, err := s.Batches.Generate(r.Context(), req)
	switch {
	case errors.Is(err, batching.ErrBusy):
		writeProblem(w, http.StatusConflict, "Batch generation in progress", err.Error(), r.URL.Path)
		return
	case err != nil:
		writeProblem(w, http.StatusInternalServerError, "Batch generation failed", err.Error(), r.URL.Path)
		return
	}
	status := http.StatusOK
	if sum.Status == batching.StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, sum)
}

// BatchesHandler handles GET /batches: the raw batch/order linkage.
func (s *Server) BatchesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	links, err := s.Batches.Memberships(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List batches failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// BatchesIndexHandler handles GET /v1/batches?since=YYYY-MM-DD
func (s *Server) BatchesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid since", err.Error(), r.URL.Path)
		return
	}
	s.listBatches(w, r, since)
}

// BatchesTodayHandler handles GET /batches/today: batches created since local midnight.
func (s *Server) BatchesTodayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := time.Now()
	s.listBatches(w, r, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()))
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request, since time.Time) {
	items, err := s.Batches.ListBatches(r.Context(), since)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List batches failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
