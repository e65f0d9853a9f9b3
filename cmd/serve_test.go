package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gg"
	"golang.org/x/sync/semaphore"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/overlay"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

type fakeEngine struct {
	lines []ocr.TextLine
	langs []string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) ValidateConfig(ocr.Config) error { return nil }

func (e *fakeEngine) Languages(context.Context) ([]string, error) {
	return e.langs, nil
}

func (e *fakeEngine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	return e.lines, nil
}

func box(x0, y0, x1, y1 float64) quad.Quad {
	return quad.FromRect(gg.NewRect(gg.Pt(x0, y0), gg.Pt(x1, y1)))
}

var twoColumnLines = []ocr.TextLine{
	{Text: "right", Confidence: 0.9, Box: box(0.6, 0.2, 0.9, 0.3)},
	{Text: "left", Confidence: 0.8, Box: box(0.1, 0.2, 0.3, 0.3)},
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testServer(t *testing.T, engine ocr.Engine, s Settings) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(newServer(ctx, engine, s).routes())
	t.Cleanup(ts.Close)
	return ts
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Server.RateLimitBurst = 1000
	return s
}

func upload(t *testing.T, method, url string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "page.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func doJSON(t *testing.T, method, url string, in, out any) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func nearPoint(a, b point) bool {
	return near(a[0], b[0]) && near(a[1], b[1])
}

// settled polls the page until its recognition finishes.
func settled(t *testing.T, baseURL, id string) pageResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var p pageResponse
		if code := doJSON(t, http.MethodGet, baseURL+"/api/pages/"+id, nil, &p); code != http.StatusOK {
			t.Fatalf("GET page status = %d", code)
		}
		if !p.Pending {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("recognition did not settle")
	return pageResponse{}
}

func TestServePageLifecycle(t *testing.T) {
	ts := testServer(t, &fakeEngine{lines: twoColumnLines, langs: []string{"en-US", "de-DE"}}, testSettings())

	resp := upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 200, 100), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[pageResponse](t, resp)
	if created.ID == "" || created.Width != 200 || created.Height != 100 || created.Generation != 1 {
		t.Fatalf("created = %+v", created)
	}
	if created.Quad[2] != (point{200, 100}) {
		t.Errorf("default quad = %v, want the image rectangle", created.Quad)
	}

	p := settled(t, ts.URL, created.ID)
	if !p.HasText || p.Text != "left\nright" {
		t.Errorf("text = %q (has %v), want reading order", p.Text, p.HasText)
	}
	if len(p.Lines) != 2 || !near(p.Lines[0].Span[0], 0.1) || !near(p.Lines[0].Span[1], 0.3) {
		t.Errorf("lines = %+v", p.Lines)
	}
	if p.Error != nil {
		t.Errorf("unexpected error %+v", p.Error)
	}

	// Drag over the left column only: x from 10 to 40 of 200 pixels.
	var sel selectionResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/api/pages/"+p.ID+"/selection",
		map[string]any{"from": point{10, 50}, "to": point{40, 50}}, &sel)
	if code != http.StatusOK {
		t.Fatalf("selection status = %d", code)
	}
	if !sel.HasText || sel.Text != "left" || len(sel.Fragments) != 1 {
		t.Errorf("selection = %+v", sel)
	}
	if len(sel.Interval) != 2 || !near(sel.Interval[0], 0.05) || !near(sel.Interval[1], 0.2) {
		t.Errorf("interval = %v", sel.Interval)
	}
	if len(sel.Highlight) != 4 || !nearPoint(sel.Highlight[0], point{10, 0}) || !nearPoint(sel.Highlight[2], point{40, 100}) {
		t.Errorf("highlight = %v", sel.Highlight)
	}

	// A view transform that doubles view coordinates lands this drag on the right column.
	if code := doJSON(t, http.MethodPut, ts.URL+"/api/pages/"+p.ID+"/view",
		map[string]any{"matrix": []float64{2, 0, 0, 0, 2, 0}}, nil); code != http.StatusNoContent {
		t.Fatalf("view status = %d", code)
	}
	code = doJSON(t, http.MethodPost, ts.URL+"/api/pages/"+p.ID+"/selection",
		map[string]any{"from": point{60, 25}, "to": point{80, 25}}, &sel)
	if code != http.StatusOK || sel.Text != "right" {
		t.Errorf("selection through view = %d %+v", code, sel)
	}

	// Moving the quad keeps the interval and re-derives the fragments.
	var moved pageResponse
	q := []point{{0, 0}, {400, 0}, {400, 200}, {0, 200}}
	if code := doJSON(t, http.MethodPut, ts.URL+"/api/pages/"+p.ID+"/quad", map[string]any{"quad": q}, &moved); code != http.StatusOK {
		t.Fatalf("quad status = %d", code)
	}
	if moved.Quad[1] != (point{400, 0}) {
		t.Errorf("quad = %v", moved.Quad)
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/api/pages/"+p.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/pages/"+p.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", code)
	}
}

func TestServeReplaceImage(t *testing.T) {
	ts := testServer(t, &fakeEngine{lines: twoColumnLines}, testSettings())

	created := decode[pageResponse](t, upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 200, 100), nil))
	settled(t, ts.URL, created.ID)

	resp := upload(t, http.MethodPut, ts.URL+"/api/pages/"+created.ID+"/image", pngBytes(t, 50, 60), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("replace status = %d", resp.StatusCode)
	}
	replaced := decode[pageResponse](t, resp)
	if replaced.Generation != 2 || replaced.Width != 50 {
		t.Errorf("replaced = %+v", replaced)
	}
	if p := settled(t, ts.URL, created.ID); p.Generation != 2 || !p.HasText {
		t.Errorf("after replace = %+v", p)
	}
}

func TestServeOCRError(t *testing.T) {
	ts := testServer(t, &fakeEngine{}, testSettings())

	created := decode[pageResponse](t, upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 20, 20), nil))
	p := settled(t, ts.URL, created.ID)
	if p.HasText || p.Error == nil || p.Error.Code != "unrecognized" {
		t.Errorf("page = %+v, want unrecognized error", p)
	}

	var sel selectionResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/pages/"+p.ID+"/selection",
		map[string]any{"from": point{0, 0}, "to": point{20, 20}}, &sel); code != http.StatusOK {
		t.Fatalf("selection status = %d", code)
	}
	if sel.Highlight != nil || sel.HasText {
		t.Errorf("selection without text = %+v", sel)
	}
}

func TestServeBadRequests(t *testing.T) {
	ts := testServer(t, &fakeEngine{lines: twoColumnLines}, testSettings())

	resp := upload(t, http.MethodPost, ts.URL+"/api/pages", []byte("not an image"), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad image status = %d", resp.StatusCode)
	}

	resp = upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 10, 10), map[string]string{"quad": "0,0 1,1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad quad status = %d", resp.StatusCode)
	}

	created := decode[pageResponse](t, upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 10, 10),
		map[string]string{"quad": "0,0 5,0 5,5 0,5"}))
	if created.Quad[2] != (point{5, 5}) {
		t.Errorf("quad field ignored: %v", created.Quad)
	}

	if code := doJSON(t, http.MethodPut, ts.URL+"/api/pages/"+created.ID+"/quad",
		map[string]any{"quad": []point{{0, 0}}}, nil); code != http.StatusBadRequest {
		t.Errorf("short quad status = %d", code)
	}
	if code := doJSON(t, http.MethodPut, ts.URL+"/api/pages/"+created.ID+"/view",
		map[string]any{"matrix": []float64{0, 0, 0, 0, 0, 0}}, nil); code != http.StatusBadRequest {
		t.Errorf("singular view status = %d", code)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/pages/nope/selection", map[string]any{}, nil); code != http.StatusNotFound {
		t.Errorf("unknown page status = %d", code)
	}
}

func TestServeLanguages(t *testing.T) {
	ts := testServer(t, &fakeEngine{langs: []string{"de-DE", "en-US"}}, testSettings())

	var langs map[string]any
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/languages", nil, &langs); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if langs["available"] != true || langs["default"] != "en-US" || langs["current"] != "en-US" {
		t.Errorf("languages = %v", langs)
	}

	if code := doJSON(t, http.MethodPut, ts.URL+"/api/languages", map[string]string{"language": "de-DE"}, &langs); code != http.StatusOK {
		t.Fatalf("set status = %d", code)
	}
	if langs["current"] != "de-DE" {
		t.Errorf("current = %v", langs["current"])
	}

	if code := doJSON(t, http.MethodPut, ts.URL+"/api/languages", map[string]string{"language": "xx"}, nil); code != http.StatusBadRequest {
		t.Errorf("unsupported language status = %d", code)
	}

	// No languages means OCR is unavailable.
	ts = testServer(t, &fakeEngine{}, testSettings())
	doJSON(t, http.MethodGet, ts.URL+"/api/languages", nil, &langs)
	if langs["available"] != false {
		t.Errorf("languages without support = %v", langs)
	}
}

func TestServeRateLimit(t *testing.T) {
	s := DefaultSettings()
	s.Server.RateLimitEvery = time.Hour
	s.Server.RateLimitBurst = 2
	ts := testServer(t, &fakeEngine{}, s)

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = doJSON(t, http.MethodGet, ts.URL+"/health", nil, nil)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

type blockingEngine struct {
	fakeEngine
	started chan struct{}
	release chan struct{}
}

func (e *blockingEngine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	e.started <- struct{}{}
	<-e.release
	return nil, nil
}

func TestLimitedEngine(t *testing.T) {
	inner := &blockingEngine{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := limitedEngine{Engine: inner, sem: semaphore.NewWeighted(1)}

	go e.Recognize(context.Background(), nil, ocr.Config{})
	<-inner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Recognize(ctx, nil, ocr.Config{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Recognize() error = %v, want deadline exceeded", err)
	}
	close(inner.release)

	if e.Name() != "fake" {
		t.Errorf("Name() = %q", e.Name())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "5.6.7.8:9", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": " 9.9.9.9 "}, "5.6.7.8:9", "9.9.9.9"},
		{"remote addr", nil, "5.6.7.8:9", "5.6.7.8"},
		{"remote without port", nil, "5.6.7.8", "5.6.7.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathPoints(t *testing.T) {
	q := quad.New(gg.Pt(0, 0), gg.Pt(10, 0), gg.Pt(10, 5), gg.Pt(0, 5))
	pts := pathPoints(q.InsetPath(0.5, 1))
	if len(pts) != 4 || !nearPoint(pts[0], point{5, 0}) || !strings.Contains(formatQuad(q.Inset(0.5, 1)), "10,5") {
		t.Errorf("pathPoints() = %v", pts)
	}
}

// cancellableEngine fails with the context error once its request is
// cancelled, like a real engine interrupted mid-recognition.
type cancellableEngine struct {
	fakeEngine
}

func (e *cancellableEngine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.lines, nil
}

func TestStartOCRConcurrentReplacements(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newServer(ctx, &cancellableEngine{fakeEngine{lines: twoColumnLines}}, testSettings())
	p := &page{id: "p", createdAt: time.Now(), overlay: overlay.New(quad.Unit)}

	var images []*ocr.Image
	for i := 1; i <= 8; i++ {
		img, err := ocr.NewImage(pngBytes(t, i*10, 10))
		if err != nil {
			t.Fatal(err)
		}
		images = append(images, img)
	}

	var wg sync.WaitGroup
	for _, img := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.startOCR(p, img)
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for p.overlay.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("recognition did not settle")
		}
		time.Sleep(time.Millisecond)
	}

	// Whichever replacement came last owns both the live context and the
	// newest generation, so its result is the one kept.
	if err := p.overlay.OCRError(); err != nil {
		t.Errorf("OCRError() = %v, want the latest image recognized", err)
	}
	if _, ok := p.overlay.AllRecognizedText(); !ok {
		t.Error("no text after concurrent replacements")
	}
	if p.overlay.Generation() != 8 {
		t.Errorf("Generation() = %d, want 8", p.overlay.Generation())
	}
}

func TestServeSequentialReplacements(t *testing.T) {
	ts := testServer(t, &cancellableEngine{fakeEngine{lines: twoColumnLines}}, testSettings())

	created := decode[pageResponse](t, upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 200, 100), nil))
	for _, width := range []int{50, 70} {
		resp := upload(t, http.MethodPut, ts.URL+"/api/pages/"+created.ID+"/image", pngBytes(t, width, 60), nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("replace status = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	p := settled(t, ts.URL, created.ID)
	if p.Generation != 3 || p.Width != 70 || !p.HasText || p.Error != nil {
		t.Errorf("after replacements = %+v", p)
	}
}

func TestSelectionHighlightMatchesInterval(t *testing.T) {
	ts := testServer(t, &fakeEngine{lines: twoColumnLines}, testSettings())
	created := decode[pageResponse](t, upload(t, http.MethodPost, ts.URL+"/api/pages", pngBytes(t, 200, 100), nil))
	settled(t, ts.URL, created.ID)

	var sel selectionResponse
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/pages/"+created.ID+"/selection",
		map[string]any{"from": point{150, 50}, "to": point{20, 50}}, &sel); code != http.StatusOK {
		t.Fatalf("selection status = %d", code)
	}
	if len(sel.Interval) != 2 || len(sel.Highlight) != 4 {
		t.Fatalf("selection = %+v", sel)
	}
	lo, hi := sel.Interval[0]*200, sel.Interval[1]*200
	if !nearPoint(sel.Highlight[0], point{lo, 0}) || !nearPoint(sel.Highlight[1], point{hi, 0}) {
		t.Errorf("highlight %v does not match interval %v", sel.Highlight, sel.Interval)
	}
	if sel.Text != "left\nright" {
		t.Errorf("text = %q", sel.Text)
	}
}

func TestExpirePages(t *testing.T) {
	s := testSettings()
	s.Server.PageTTL = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newServer(ctx, &fakeEngine{}, s)

	now := time.Now()
	jobCtx, jobCancel := context.WithCancel(context.Background())
	defer jobCancel()
	srv.pages["idle"] = &page{id: "idle", seen: now.Add(-2 * time.Minute), cancel: jobCancel}
	srv.pages["busy"] = &page{id: "busy", seen: now.Add(-10 * time.Second)}

	if n := srv.expirePages(now); n != 1 {
		t.Errorf("expirePages() = %d, want 1", n)
	}
	if _, ok := srv.pages["idle"]; ok {
		t.Error("idle page kept")
	}
	if _, ok := srv.pages["busy"]; !ok {
		t.Error("recently used page dropped")
	}
	if jobCtx.Err() == nil {
		t.Error("expired page's recognition not cancelled")
	}

	srv.settings.Server.PageTTL = 0
	if n := srv.expirePages(now.Add(time.Hour)); n != 0 {
		t.Errorf("expirePages() with TTL disabled = %d, want 0", n)
	}
}
