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
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/imageio"
	"github.com/mlnoga/tonecurve/internal/ops"
	_ "github.com/mlnoga/tonecurve/internal/ops/tone" // register operators for JSON decoding
	"github.com/mlnoga/tonecurve/internal/pixbuf"
	"github.com/mlnoga/tonecurve/internal/preset"
	"github.com/mlnoga/tonecurve/internal/render"
	"github.com/mlnoga/tonecurve/internal/session"
	"github.com/mlnoga/tonecurve/web"
)

// Maximum size of uploaded images
const maxUploadBytes = 64 << 20

var ErrMissingField = errors.New("missing field")

// REST server for interactive tone curve sessions and batch runs
type Server struct {
	Store   *session.Store
	Log     io.Writer
	Quality int // JPEG quality of downloads

	upgrader websocket.Upgrader
}

func NewServer(store *session.Store, log io.Writer) *Server {
	return &Server{
		Store:   store,
		Log:     log,
		Quality: 90,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.Log), gin.Recovery())
	r.MaxMultipartMemory = maxUploadBytes

	r.GET("/", getIndex)
	r.StaticFS("/js", web.JavascriptFS())

	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/apply", s.postApply)
			v1.POST("/sessions", s.postSession)

			sess := v1.Group("/sessions/:id")
			{
				sess.GET("", s.withSession(s.getSession))
				sess.DELETE("", s.deleteSession)
				sess.POST("/anchor", s.withSession(s.postAnchor))
				sess.POST("/pointer", s.withSession(s.postPointer))
				sess.POST("/reset", s.withSession(s.postReset))
				sess.GET("/preset", s.withSession(s.getPreset))
				sess.POST("/preset", s.withSession(s.postPreset))
				sess.GET("/image", s.withSession(s.getImage))
				sess.GET("/original", s.withSession(s.getOriginal))
				sess.GET("/histogram.png", s.withSession(s.getHistogramPlot))
				sess.GET("/curve.png", s.withSession(s.getCurvePlot))
				sess.GET("/ws", s.withSession(s.getWebsocket))
			}
		}
	}
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func (s *Server) Serve(addr string) error {
	fmt.Fprintf(s.Log, "Serving on %s\n", addr)
	return s.Router().Run(addr)
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// HTTP status for an error from the session layer
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imageio.ErrUnknownFormat),
		errors.Is(err, pixbuf.ErrUnsupportedFormat),
		errors.Is(err, pixbuf.ErrInvalidGeometry),
		errors.Is(err, preset.ErrInvalidAnchor),
		errors.Is(err, session.ErrUnknownAction),
		errors.Is(err, ErrMissingField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) withSession(h func(c *gin.Context, sess *session.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.Store.Get(c.Param("id"))
		if err != nil {
			fail(c, statusOf(err), err)
			return
		}
		h(c, sess)
	}
}

func (s *Server) postSession(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if fh.Size > maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload of %d bytes exceeds %d", fh.Size, maxUploadBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	defer f.Close()

	buf, format, err := imageio.Decode(f)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	sess, err := s.Store.Create(fh.Filename, buf)
	if err != nil {
		fail(c, statusOf(err), err)
		return
	}
	fmt.Fprintf(s.Log, "%s: decoded %s pixel %s upload\n", sess.ID, buf.DimensionsToString(), format)
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) getSession(c *gin.Context, sess *session.Session) {
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.Store.Delete(c.Param("id")); err != nil {
		fail(c, statusOf(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

type anchorArgs struct {
	Index *int `json:"index"`
	Level *int `json:"level"`
}

func (a *anchorArgs) apply(sess *session.Session) (bool, error) {
	if a.Index == nil || a.Level == nil {
		return false, fmt.Errorf("%w: anchor needs index and level", ErrMissingField)
	}
	if !curve.IsAnchor(*a.Index) {
		return false, fmt.Errorf("%w: %d", preset.ErrInvalidAnchor, *a.Index)
	}
	return sess.OnAnchorDragged(*a.Index, *a.Level)
}

func (s *Server) postAnchor(c *gin.Context, sess *session.Session) {
	var args anchorArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	changed, err := args.apply(sess)
	s.respond(c, sess, changed, err)
}

type pointerArgs struct {
	Action session.PointerAction `json:"action"`
	X      int                   `json:"x"`
	Y      int                   `json:"y"`
}

func (a *pointerArgs) apply(sess *session.Session) (bool, error) {
	if a.Action == 0 {
		return false, fmt.Errorf("%w: pointer needs an action", ErrMissingField)
	}
	return sess.OnPointer(a.Action, a.X, a.Y)
}

func (s *Server) postPointer(c *gin.Context, sess *session.Session) {
	var args pointerArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	changed, err := args.apply(sess)
	s.respond(c, sess, changed, err)
}

func (s *Server) postReset(c *gin.Context, sess *session.Session) {
	s.respond(c, sess, true, sess.Reset())
}

// Replies with a snapshot, or the error
func (s *Server) respond(c *gin.Context, sess *session.Session, changed bool, err error) {
	if err != nil {
		fail(c, statusOf(err), err)
		return
	}
	snap := sess.Snapshot()
	snap.Changed = changed
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getPreset(c *gin.Context, sess *session.Session) {
	data, err := sess.Preset().Marshal()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/toml", data)
}

func (s *Server) postPreset(c *gin.Context, sess *session.Session) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	p, err := preset.Parse(data)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	s.respond(c, sess, true, sess.ApplyPreset(p))
}

var contentTypes = map[string]string{
	"png": "image/png",
	"jpg": "image/jpeg",
	"bmp": "image/bmp",
	"tif": "image/tiff",
	"gif": "image/gif",
}

// Writes an image in the format given by the query, downscaled to maxSize if given
func (s *Server) writeImage(c *gin.Context, img image.Image) {
	format := c.DefaultQuery("format", "png")
	if format == "jpeg" {
		format = "jpg"
	}
	contentType, ok := contentTypes[format]
	if !ok {
		fail(c, http.StatusBadRequest, fmt.Errorf("%w: %q", imageio.ErrUnknownFormat, format))
		return
	}
	maxSize, err := strconv.Atoi(c.DefaultQuery("maxSize", "0"))
	if err != nil || maxSize < 0 {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid maxSize %q", c.Query("maxSize")))
		return
	}
	img = imageio.Preview(img, maxSize)
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := imageio.Encode(c.Writer, img, format, s.Quality); err != nil {
		fmt.Fprintf(s.Log, "error encoding %s: %s\n", format, err.Error())
	}
}

func (s *Server) getImage(c *gin.Context, sess *session.Session) {
	s.writeImage(c, sess.Current().ToRGBA())
}

func (s *Server) getOriginal(c *gin.Context, sess *session.Session) {
	s.writeImage(c, sess.Original().ToRGBA())
}

func (s *Server) getHistogramPlot(c *gin.Context, sess *session.Session) {
	h := sess.Histogram()
	s.writeImage(c, render.Histogram(&h, render.HistogramWidth, render.HistogramHeight, render.DefaultPalette()))
}

func (s *Server) getCurvePlot(c *gin.Context, sess *session.Session) {
	s.writeImage(c, render.Curve(sess.Curve().Points(), render.DefaultCurveBox, render.DefaultPalette()))
}

// A message from a websocket client
type wsMessage struct {
	Type string `json:"type"` // anchor, pointer, reset or snapshot
	anchorArgs
	pointerArgs
}

func (s *Server) getWebsocket(c *gin.Context, sess *session.Session) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // upgrader has replied already
	}
	defer conn.Close()
	fmt.Fprintf(s.Log, "%s: websocket connected\n", sess.ID)

	if err := conn.WriteJSON(sess.Snapshot()); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				fmt.Fprintf(s.Log, "%s: websocket: %s\n", sess.ID, err.Error())
			}
			return
		}
		reply := s.handleMessage(sess, data)
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *Server) handleMessage(sess *session.Session, data []byte) interface{} {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return gin.H{"error": err.Error()}
	}
	var changed bool
	var err error
	switch msg.Type {
	case "anchor":
		changed, err = msg.anchorArgs.apply(sess)
	case "pointer":
		changed, err = msg.pointerArgs.apply(sess)
	case "reset":
		changed, err = true, sess.Reset()
	case "snapshot":
	default:
		err = fmt.Errorf("unknown message type '%s'", msg.Type)
	}
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	snap := sess.Snapshot()
	snap.Changed = changed
	return snap
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postApplyArgs struct {
	FilePatterns []string        `json:"filePatterns"`
	Sequence     *ops.OpSequence `json:"sequence"`
}

// Serializes writes from concurrent pipelines into a streamed response,
// flushing after each one
type syncWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (sw *syncWriter) Write(p []byte) (n int, err error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	n, err = sw.w.Write(p)
	sw.w.Flush()
	return n, err
}

// Runs an operator sequence on files below the working directory,
// streaming the log as plain text
func (s *Server) postApply(c *gin.Context) {
	logWriter := &syncWriter{w: c.Writer}
	var args postApplyArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Sequence == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sequence"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter)
	ctx.Sandboxed = true
	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Sequence)
	promises, err := seq.MakePromises(nil, ctx)
	if err == nil {
		_, err = ops.MaterializeAll(promises, ctx.MaxThreads, true)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
}
