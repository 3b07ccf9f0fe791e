// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/imageio"
	"github.com/mlnoga/tonecurve/internal/ops"
	"github.com/mlnoga/tonecurve/internal/preset"
	"github.com/mlnoga/tonecurve/internal/render"
	"github.com/mlnoga/tonecurve/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Uniform gray test image, so every pixel maps through the same curve point
func grayPNG(t *testing.T, w, h int, gray uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestServer() (*Server, http.Handler) {
	s := NewServer(session.NewStore(1<<20, curve.Truncate, io.Discard), io.Discard)
	return s, s.Router()
}

func do(h http.Handler, method, url string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doJSON(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	return do(h, method, url, strings.NewReader(body), "application/json")
}

func upload(t *testing.T, h http.Handler, fileName string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return do(h, http.MethodPost, "/api/v1/sessions", &body, mw.FormDataContentType())
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding snapshot %q: %v", w.Body.String(), err)
	}
	return snap
}

func createSession(t *testing.T, h http.Handler, gray uint8) session.Snapshot {
	t.Helper()
	w := upload(t, h, "gray.png", grayPNG(t, 16, 8, gray))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d; want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	return decodeSnapshot(t, w)
}

// Decodes an image response and returns its top left pixel
func firstPixel(t *testing.T, w *httptest.ResponseRecorder) (image.Image, uint8) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	img, _, err := image.Decode(w.Body)
	if err != nil {
		t.Fatalf("decoding image: %v", err)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	return img, uint8(r >> 8)
}

func TestPing(t *testing.T) {
	_, h := newTestServer()
	w := do(h, http.MethodGet, "/api/v1/ping", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping %d %q; want 200 pong", w.Code, w.Body.String())
	}
}

func TestIndex(t *testing.T) {
	_, h := newTestServer()
	w := do(h, http.MethodGet, "/", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "curves.js") {
		t.Errorf("index %d; want 200 referencing curves.js", w.Code)
	}
	w = do(h, http.MethodGet, "/js/curves.js", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("curves.js status %d; want 200", w.Code)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	s, h := newTestServer()
	w := upload(t, h, "notes.txt", []byte("just some text, not an image at all"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d; want %d", w.Code, http.StatusBadRequest)
	}
	if s.Store.Len() != 0 {
		t.Errorf("Len()=%d; want 0", s.Store.Len())
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, h := newTestServer()
	snap := createSession(t, h, 128)
	if snap.Width != 16 || snap.Height != 8 || snap.FileName != "gray.png" {
		t.Errorf("snapshot %dx%d %q; want 16x8 gray.png", snap.Width, snap.Height, snap.FileName)
	}
	if snap.Histogram[128] != 16*8 {
		t.Errorf("histogram[128]=%d; want %d", snap.Histogram[128], 16*8)
	}
	base := "/api/v1/sessions/" + snap.ID

	w := do(h, http.MethodGet, base, nil, "")
	if got := decodeSnapshot(t, w); got.Version != snap.Version {
		t.Errorf("version %d; want %d", got.Version, snap.Version)
	}

	w = doJSON(h, http.MethodPost, base+"/anchor", `{"index":128,"level":200}`)
	if w.Code != http.StatusOK {
		t.Fatalf("anchor status %d: %s", w.Code, w.Body.String())
	}
	moved := decodeSnapshot(t, w)
	if !moved.Changed || moved.Points[128] != 200 || moved.Version <= snap.Version {
		t.Errorf("after anchor changed=%v points[128]=%d version=%d; want true 200 >%d",
			moved.Changed, moved.Points[128], moved.Version, snap.Version)
	}
	if moved.Histogram[200] != 16*8 {
		t.Errorf("histogram[200]=%d; want %d", moved.Histogram[200], 16*8)
	}

	// same level again is a no-op
	w = doJSON(h, http.MethodPost, base+"/anchor", `{"index":128,"level":200}`)
	if again := decodeSnapshot(t, w); again.Changed || again.Version != moved.Version {
		t.Errorf("repeat changed=%v version=%d; want false %d", again.Changed, again.Version, moved.Version)
	}

	if _, v := firstPixel(t, do(h, http.MethodGet, base+"/image", nil, "")); v != 200 {
		t.Errorf("image pixel %d; want 200", v)
	}
	if _, v := firstPixel(t, do(h, http.MethodGet, base+"/original", nil, "")); v != 128 {
		t.Errorf("original pixel %d; want 128", v)
	}

	w = doJSON(h, http.MethodPost, base+"/reset", "")
	if reset := decodeSnapshot(t, w); reset.Points[128] != 128 || reset.Histogram[128] != 16*8 {
		t.Errorf("after reset points[128]=%d histogram[128]=%d; want 128 %d",
			reset.Points[128], reset.Histogram[128], 16*8)
	}

	w = do(h, http.MethodDelete, base, nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status %d; want %d", w.Code, http.StatusNoContent)
	}
	if s.Store.Len() != 0 {
		t.Errorf("Len()=%d; want 0", s.Store.Len())
	}
	w = do(h, http.MethodGet, base, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status %d; want %d", w.Code, http.StatusNotFound)
	}
}

func TestAnchorErrors(t *testing.T) {
	_, h := newTestServer()
	snap := createSession(t, h, 64)
	url := "/api/v1/sessions/" + snap.ID + "/anchor"

	tests := []struct {
		body string
		want int
	}{
		{`{"index":33,"level":10}`, http.StatusBadRequest},
		{`{"index":255,"level":10}`, http.StatusBadRequest},
		{`{"level":10}`, http.StatusBadRequest},
		{`{"index":"a"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, test := range tests {
		if w := doJSON(h, http.MethodPost, url, test.body); w.Code != test.want {
			t.Errorf("%s: status %d; want %d", test.body, w.Code, test.want)
		}
	}

	w := doJSON(h, http.MethodPost, "/api/v1/sessions/nope/anchor", `{"index":32,"level":10}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session status %d; want %d", w.Code, http.StatusNotFound)
	}
}

func TestPointerDrag(t *testing.T) {
	_, h := newTestServer()
	snap := createSession(t, h, 128)
	url := "/api/v1/sessions/" + snap.ID + "/pointer"
	box := render.DefaultCurveBox

	w := doJSON(h, http.MethodPost, url, `{"action":"down","x":225,"y":149}`)
	down := decodeSnapshot(t, w)
	if down.Dragging != 128 || down.Changed {
		t.Errorf("after down dragging=%d changed=%v; want 128 false", down.Dragging, down.Changed)
	}

	w = doJSON(h, http.MethodPost, url, `{"action":"move","x":0,"y":50}`)
	moved := decodeSnapshot(t, w)
	want := box.LevelAt(50)
	if !moved.Changed || moved.Points[128] != want {
		t.Errorf("after move changed=%v points[128]=%d; want true %d", moved.Changed, moved.Points[128], want)
	}

	w = doJSON(h, http.MethodPost, url, `{"action":"up","x":0,"y":50}`)
	if up := decodeSnapshot(t, w); up.Dragging != -1 {
		t.Errorf("after up dragging=%d; want -1", up.Dragging)
	}

	// moves without a grabbed anchor are ignored
	w = doJSON(h, http.MethodPost, url, `{"action":"move","x":0,"y":290}`)
	if idle := decodeSnapshot(t, w); idle.Changed || idle.Points[128] != want {
		t.Errorf("idle move changed=%v points[128]=%d; want false %d", idle.Changed, idle.Points[128], want)
	}

	w = doJSON(h, http.MethodPost, url, `{"action":"wiggle","x":0,"y":0}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown action status %d; want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPointerWithoutAction(t *testing.T) {
	_, h := newTestServer()
	snap := createSession(t, h, 128)
	base := "/api/v1/sessions/" + snap.ID

	// lands on anchor 128, but must not grab it
	w := doJSON(h, http.MethodPost, base+"/pointer", `{"x":225,"y":149}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d; want %d", w.Code, http.StatusBadRequest)
	}
	w = do(h, http.MethodGet, base, nil, "")
	if got := decodeSnapshot(t, w); got.Dragging != -1 {
		t.Errorf("dragging=%d; want -1", got.Dragging)
	}
}

func TestPresetRoundTrip(t *testing.T) {
	_, h := newTestServer()
	snap := createSession(t, h, 96)
	base := "/api/v1/sessions/" + snap.ID

	body := "interpolation = \"round\"\n\n[[anchor]]\nindex = 96\nlevel = 32\n"
	w := do(h, http.MethodPost, base+"/preset", strings.NewReader(body), "application/toml")
	if w.Code != http.StatusOK {
		t.Fatalf("post preset status %d: %s", w.Code, w.Body.String())
	}
	applied := decodeSnapshot(t, w)
	if applied.Points[96] != 32 || applied.Interpolation != curve.Round {
		t.Errorf("after preset points[96]=%d interpolation=%v; want 32 round", applied.Points[96], applied.Interpolation)
	}

	w = do(h, http.MethodGet, base+"/preset", nil, "")
	p, err := preset.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Parse(%q)=%v", w.Body.String(), err)
	}
	if len(p.Anchors) != 1 || p.Anchors[0] != (preset.Anchor{Index: 96, Level: 32}) {
		t.Errorf("anchors %v; want [96:32]", p.Anchors)
	}

	w = do(h, http.MethodPost, base+"/preset", strings.NewReader("[[anchor]]\nindex = 7\nlevel = 1\n"), "application/toml")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid preset status %d; want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPlotsAndFormats(t *testing.T) {
	_, h := newTestServer()
	snap := createSession(t, h, 50)
	base := "/api/v1/sessions/" + snap.ID

	img, _ := firstPixel(t, do(h, http.MethodGet, base+"/curve.png", nil, ""))
	if b := img.Bounds(); b.Dx() != render.DefaultCurveBox.Width || b.Dy() != render.DefaultCurveBox.Height {
		t.Errorf("curve plot %v; want %dx%d", b, render.DefaultCurveBox.Width, render.DefaultCurveBox.Height)
	}
	img, _ = firstPixel(t, do(h, http.MethodGet, base+"/histogram.png", nil, ""))
	if b := img.Bounds(); b.Dx() != render.HistogramWidth || b.Dy() != render.HistogramHeight {
		t.Errorf("histogram plot %v; want %dx%d", b, render.HistogramWidth, render.HistogramHeight)
	}

	w := do(h, http.MethodGet, base+"/image?format=jpg&maxSize=8", nil, "")
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type %q; want image/jpeg", ct)
	}
	img, _ = firstPixel(t, w)
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("preview %v; want 8x4", b)
	}

	for _, q := range []string{"format=xyz", "maxSize=-3", "maxSize=big"} {
		if w := do(h, http.MethodGet, base+"/image?"+q, nil, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d; want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestWebsocket(t *testing.T) {
	s, h := newTestServer()
	snap := createSession(t, h, 128)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + snap.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial()=%v", err)
	}
	defer conn.Close()

	var first session.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON()=%v", err)
	}
	if first.ID != snap.ID {
		t.Errorf("initial snapshot id %q; want %q", first.ID, snap.ID)
	}

	exchange := func(msg string) map[string]interface{} {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage()=%v", err)
		}
		var reply map[string]interface{}
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("ReadJSON()=%v", err)
		}
		return reply
	}

	reply := exchange(`{"type":"anchor","index":128,"level":10}`)
	if reply["changed"] != true || reply["points"].([]interface{})[128].(float64) != 10 {
		t.Errorf("anchor reply changed=%v; want true with points[128]=10", reply["changed"])
	}
	reply = exchange(`{"type":"pointer","x":225,"y":149}`)
	if _, ok := reply["error"]; !ok {
		t.Errorf("pointer without action reply %v; want error", reply)
	}
	reply = exchange(`{"type":"pointer","action":"down","x":225,"y":149}`)
	if reply["dragging"].(float64) != -1 {
		t.Errorf("down away from moved anchor dragging=%v; want -1", reply["dragging"])
	}
	reply = exchange(`{"type":"reset"}`)
	if reply["points"].([]interface{})[128].(float64) != 128 {
		t.Errorf("reset reply points[128]=%v; want 128", reply["points"].([]interface{})[128])
	}
	reply = exchange(`{"type":"launch"}`)
	if _, ok := reply["error"]; !ok {
		t.Errorf("unknown type reply %v; want error", reply)
	}
	reply = exchange(`{"type":"anchor","index":5,"level":1}`)
	if _, ok := reply["error"]; !ok {
		t.Errorf("bad anchor reply %v; want error", reply)
	}
}

// Changes into a fresh temporary directory for the rest of the test
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestApply(t *testing.T) {
	dir := chdirTemp(t)

	for _, name := range []string{"in1.png", "in2.png"} {
		if err := os.WriteFile(name, grayPNG(t, 4, 4, 128), 0644); err != nil {
			t.Fatal(err)
		}
	}

	_, h := newTestServer()
	body := `{"filePatterns":["in*.png"],"sequence":{"type":"seq","steps":[
		{"type":"curves","anchors":[{"index":128,"level":200}]},
		{"type":"save","filePattern":"out%d.png"}]}}`
	w := doJSON(h, http.MethodPost, "/api/v1/apply", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "error") {
		t.Errorf("log contains an error:\n%s", w.Body.String())
	}
	for _, name := range []string{"out0.png", "out1.png"} {
		buf, err := imageio.Load(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Load(%s)=%v", name, err)
		}
		if r, _, _ := buf.RGB(0, 0); r != 200 {
			t.Errorf("%s pixel %d; want 200", name, r)
		}
	}

	// absolute output paths are refused
	body = `{"filePatterns":["in1.png"],"sequence":{"steps":[{"type":"save","filePattern":"/tmp/escape%d.png"}]}}`
	w = doJSON(h, http.MethodPost, "/api/v1/apply", body)
	if !strings.Contains(w.Body.String(), "outside current directory") {
		t.Errorf("sandbox log %q; want refusal", w.Body.String())
	}

	w = doJSON(h, http.MethodPost, "/api/v1/apply", `{"filePatterns":["in1.png"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sequence status %d; want %d", w.Code, http.StatusBadRequest)
	}
}

// Records the highest number of Write calls in progress at the same time
type overlapRecorder struct {
	*httptest.ResponseRecorder
	active, max int32
}

func (o *overlapRecorder) Write(p []byte) (int, error) {
	n := atomic.AddInt32(&o.active, 1)
	defer atomic.AddInt32(&o.active, -1)
	for {
		m := atomic.LoadInt32(&o.max)
		if n <= m || atomic.CompareAndSwapInt32(&o.max, m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond) // widen the window for overlaps
	return o.ResponseRecorder.Write(p)
}

func TestApplyLogsSerially(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(4))
	chdirTemp(t)

	const files = 16
	for i := 0; i < files; i++ {
		name := "in" + string(rune('a'+i)) + ".png"
		if err := os.WriteFile(name, grayPNG(t, 8, 8, uint8(16*i)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	_, h := newTestServer()
	body := `{"filePatterns":["in*.png"],"sequence":{"steps":[
		{"type":"curves","anchors":[{"index":64,"level":100}]},
		{"type":"save","filePattern":"out%d.png"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/apply", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := &overlapRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if m := atomic.LoadInt32(&w.max); m != 1 {
		t.Errorf("max concurrent writes %d; want 1", m)
	}
	log := w.Body.String()
	if !strings.Contains(log, "Found 16 files") || strings.Contains(log, "error") {
		t.Errorf("unexpected log:\n%s", log)
	}
	for i := 0; i < files; i++ {
		if _, err := os.Stat(ops.ExpandPattern("out%d.png", i)); err != nil {
			t.Errorf("output %d: %v", i, err)
		}
	}
}
