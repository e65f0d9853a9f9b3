package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gogpu/gg"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/overlay"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

var (
	servePort   string
	serveHost   string
	serveEngine string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the overlay HTTP API",
	Long: `Start an HTTP API a view layer can drive: upload page images, move the
display quad, and turn drag gestures into highlights and selected text.`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to run the web server on (default from settings)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind the web server to (default from settings)")
	serveCmd.Flags().StringVar(&serveEngine, "engine", "", "Engine to recognize uploads with (default from settings)")
}

func runServe(cmd *cobra.Command, args []string) error {
	engine, err := engineFor(newRegistry(), serveEngine)
	if err != nil {
		return err
	}

	s := settings
	if serveHost != "" {
		s.Server.Host = serveHost
	}
	if servePort != "" {
		s.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv := newServer(ctx, engine, s)
	addr := net.JoinHostPort(s.Server.Host, s.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.cleanupRateLimiters(ctx, 5*time.Minute)
	if s.Server.PageTTL > 0 {
		go srv.cleanupPages(ctx, s.Server.PageTTL/4)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
		}
	}()

	slog.Info("Overlay API available", "url", fmt.Sprintf("http://%s", addr), "engine", engine.Name(), "max_concurrent_ocr", s.Server.MaxConcurrentOCR)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// limitedEngine caps how many recognitions run at once.
type limitedEngine struct {
	ocr.Engine
	sem *semaphore.Weighted
}

func (e limitedEngine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)
	return e.Engine.Recognize(ctx, img, config)
}

type page struct {
	id        string
	createdAt time.Time
	overlay   *overlay.Overlay

	mu     sync.Mutex
	img    *ocr.Image
	cancel context.CancelFunc
	seen   time.Time
}

type server struct {
	ctx      context.Context
	engine   ocr.Engine
	langs    *ocr.Languages
	settings Settings

	limiters sync.Map

	mu    sync.RWMutex
	pages map[string]*page
}

func newServer(ctx context.Context, engine ocr.Engine, s Settings) *server {
	return &server{
		ctx:      ctx,
		engine:   limitedEngine{Engine: engine, sem: semaphore.NewWeighted(s.Server.MaxConcurrentOCR)},
		langs:    engineLanguages(ctx, engine, s),
		settings: s,
		pages:    make(map[string]*page),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("PUT /api/languages", s.handleSetLanguage)
	mux.HandleFunc("POST /api/pages", s.handleCreatePage)
	mux.HandleFunc("GET /api/pages/{id}", s.handleGetPage)
	mux.HandleFunc("DELETE /api/pages/{id}", s.handleDeletePage)
	mux.HandleFunc("PUT /api/pages/{id}/image", s.handleSetImage)
	mux.HandleFunc("PUT /api/pages/{id}/quad", s.handleSetQuad)
	mux.HandleFunc("PUT /api/pages/{id}/view", s.handleSetView)
	mux.HandleFunc("POST /api/pages/{id}/selection", s.handleSelection)
	mux.HandleFunc("DELETE /api/pages/{id}/selection", s.handleClearSelection)
	return withLogging(s.withRateLimit(mux))
}

// point is the wire form of a point: [x, y].
type point [2]float64

func (p point) pt() gg.Point { return gg.Pt(p[0], p[1]) }

func toPoint(p gg.Point) point { return point{p.X, p.Y} }

func toPoints(q quad.Quad) []point {
	corners := q.Corners()
	out := make([]point, len(corners))
	for i, c := range corners {
		out[i] = toPoint(c)
	}
	return out
}

func fromPoints(pts []point) (quad.Quad, error) {
	if len(pts) != 4 {
		return quad.Quad{}, fmt.Errorf("quad needs 4 points, got %d", len(pts))
	}
	return quad.New(pts[0].pt(), pts[1].pt(), pts[2].pt(), pts[3].pt()), nil
}

type errorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type lineResponse struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Box        []point   `json:"box"`
	Span       []float64 `json:"span,omitempty"`
}

type pageResponse struct {
	ID         string         `json:"id"`
	Generation uint64         `json:"generation"`
	Pending    bool           `json:"pending"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Quad       []point        `json:"quad"`
	Text       string         `json:"text"`
	HasText    bool           `json:"has_text"`
	Lines      []lineResponse `json:"lines"`
	Error      *errorResponse `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type fragmentResponse struct {
	Text      string  `json:"text"`
	Highlight []point `json:"highlight"`
}

type selectionResponse struct {
	Interval  []float64          `json:"interval"`
	Highlight []point            `json:"highlight"`
	Text      string             `json:"text"`
	HasText   bool               `json:"has_text"`
	Fragments []fragmentResponse `json:"fragments"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n := len(s.pages)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "engine": s.engine.Name(), "pages": n})
}

func (s *server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": s.langs.Available(),
		"supported": s.langs.Supported(),
		"default":   s.langs.Default(),
		"current":   s.langs.Current(),
	})
}

func (s *server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.langs.SetCurrent(req.Language); err != nil {
		respondWithOCRError(w, err, http.StatusBadRequest)
		return
	}
	s.handleLanguages(w, r)
}

func (s *server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	img, err := s.readImage(w, r)
	if err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := quad.FromRect(gg.NewRect(gg.Pt(0, 0), gg.Pt(float64(img.Width), float64(img.Height))))
	if raw := r.FormValue("quad"); raw != "" {
		q, err = parseQuad(raw)
		if err != nil {
			respondWithError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	p := &page{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		overlay:   overlay.New(q),
	}
	s.mu.Lock()
	s.pages[p.id] = p
	s.mu.Unlock()

	s.startOCR(p, img)
	slog.Info("Page created", "id", p.id, "width", img.Width, "height", img.Height)
	writeJSON(w, http.StatusCreated, s.pageResponse(p))
}

func (s *server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.pageResponse(p))
}

func (s *server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.pages, p.id)
	s.mu.Unlock()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetImage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	img, err := s.readImage(w, r)
	if err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.startOCR(p, img)
	writeJSON(w, http.StatusAccepted, s.pageResponse(p))
}

func (s *server) handleSetQuad(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		Quad []point `json:"quad"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	q, err := fromPoints(req.Quad)
	if err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.overlay.SetQuad(q)
	writeJSON(w, http.StatusOK, s.pageResponse(p))
}

func (s *server) handleSetView(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		Matrix []float64 `json:"matrix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m := gg.Identity()
	if len(req.Matrix) != 0 {
		parts := make([]string, len(req.Matrix))
		for i, v := range req.Matrix {
			parts[i] = fmt.Sprint(v)
		}
		var err error
		if m, err = parseMatrix(strings.Join(parts, ",")); err != nil {
			respondWithError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	p.overlay.SetViewTransform(m)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSelection(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	var req struct {
		From point `json:"from"`
		To   point `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	resp := selectionResponse{Fragments: []fragmentResponse{}}
	if sel, highlight := p.overlay.Select(req.From.pt(), req.To.pt()); highlight != nil {
		resp.Interval = []float64{sel.Interval.Lo, sel.Interval.Hi}
		resp.Highlight = pathPoints(highlight)
		if len(sel.Fragments) > 0 {
			resp.Text, resp.HasText = sel.Text(), true
		}
		for _, f := range sel.Fragments {
			resp.Fragments = append(resp.Fragments, fragmentResponse{
				Text:      f.Line.Text,
				Highlight: pathPoints(f.HighlightPath()),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	p, ok := s.page(w, r)
	if !ok {
		return
	}
	p.overlay.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// startOCR replaces the page image and starts recognizing it, cancelling
// any recognition still running for the previous image.
func (s *server) startOCR(p *page, img *ocr.Image) {
	ctx, cancel := context.WithCancel(s.ctx)

	config := s.settings.ocrConfig(s.engine.Name(), s.langs.Current())

	// The newest image must also hold the newest overlay generation.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.img = img
	p.cancel = cancel
	p.seen = time.Now()
	p.overlay.SetImage(ctx, s.engine, img, config)
}

func (s *server) readImage(w http.ResponseWriter, r *http.Request) (*ocr.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.settings.Server.MaxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ocr.NewImage(data)
}

func (s *server) page(w http.ResponseWriter, r *http.Request) (*page, bool) {
	s.mu.RLock()
	p, ok := s.pages[r.PathValue("id")]
	s.mu.RUnlock()
	if !ok {
		respondWithError(w, "Page not found", http.StatusNotFound)
		return nil, false
	}
	p.mu.Lock()
	p.seen = time.Now()
	p.mu.Unlock()
	return p, true
}

func (s *server) pageResponse(p *page) pageResponse {
	p.mu.Lock()
	img := p.img
	p.mu.Unlock()

	o := p.overlay
	resp := pageResponse{
		ID:         p.id,
		Generation: o.Generation(),
		Pending:    o.Pending(),
		Quad:       toPoints(o.Quad()),
		Lines:      []lineResponse{},
		CreatedAt:  p.createdAt,
	}
	if img != nil {
		resp.Width, resp.Height = img.Width, img.Height
	}
	resp.Text, resp.HasText = o.AllRecognizedText()
	for _, l := range o.Lines() {
		lr := lineResponse{Text: l.Text, Confidence: l.Confidence, Box: toPoints(l.Box)}
		if span, ok := o.Span(l); ok {
			lr.Span = []float64{span.Lo, span.Hi}
		}
		resp.Lines = append(resp.Lines, lr)
	}
	if err := o.OCRError(); err != nil {
		resp.Error = ocrErrorResponse(err)
	}
	return resp
}

func pathPoints(p *gg.Path) []point {
	var out []point
	for _, el := range p.Elements() {
		switch el := el.(type) {
		case gg.MoveTo:
			out = append(out, toPoint(el.Point))
		case gg.LineTo:
			out = append(out, toPoint(el.Point))
		}
	}
	return out
}

func ocrErrorResponse(err error) *errorResponse {
	resp := &errorResponse{Message: err.Error()}
	if code := ocr.CodeOf(err); code != 0 {
		resp.Code = code.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "err", err)
	}
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Message: message})
}

func respondWithOCRError(w http.ResponseWriter, err error, statusCode int) {
	writeJSON(w, statusCode, ocrErrorResponse(err))
}

func (s *server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			respondWithError(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type limiterEntry struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	seen    time.Time
}

func (s *server) rateLimiter(ip string) *rate.Limiter {
	v, _ := s.limiters.LoadOrStore(ip, &limiterEntry{
		limiter: rate.NewLimiter(rate.Every(s.settings.Server.RateLimitEvery), s.settings.Server.RateLimitBurst),
	})
	entry := v.(*limiterEntry)
	entry.mu.Lock()
	entry.seen = time.Now()
	entry.mu.Unlock()
	return entry.limiter
}

// cleanupRateLimiters drops limiters for clients idle longer than every.
func (s *server) cleanupRateLimiters(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.limiters.Range(func(key, value any) bool {
				entry := value.(*limiterEntry)
				entry.mu.Lock()
				idle := now.Sub(entry.seen)
				entry.mu.Unlock()
				if idle > every {
					s.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

// cleanupPages periodically expires pages idle longer than the page TTL.
func (s *server) cleanupPages(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.expirePages(now); n > 0 {
				slog.Info("Expired idle pages", "count", n)
			}
		}
	}
}

// expirePages drops pages not touched within the page TTL of now and stops
// their recognitions. It returns how many were dropped.
func (s *server) expirePages(now time.Time) int {
	ttl := s.settings.Server.PageTTL
	if ttl <= 0 {
		return 0
	}

	var expired []*page
	s.mu.Lock()
	for id, p := range s.pages {
		p.mu.Lock()
		idle := now.Sub(p.seen)
		p.mu.Unlock()
		if idle > ttl {
			delete(s.pages, id)
			expired = append(expired, p)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
	}
	return len(expired)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Debug("Request handled", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", time.Since(start))
	})
}
