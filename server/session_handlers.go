package server

import (
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgcompare/chroma"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/session"
	"github.com/chaos-io/bgcompare/store"
	"github.com/chaos-io/bgcompare/util"
)

type sessionHandler func(c *gin.Context, sess *session.Session)

func (s *Server) withSession(h sessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.sessions.get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h(c, sess)
	}
}

type imageRequest struct {
	ImageURL string `json:"imageUrl" binding:"required"`
}

// loadImage 解码 data URI 或下载远程图片，按 removal.max_dimension 缩小
// 不接受服务器本地路径，错误信息也不带底层原因
func (s *Server) loadImage(c *gin.Context) (string, image.Image, bool) {
	var req imageRequest
	if !bindJSON(c, &req) {
		return "", nil, false
	}
	img, err := util.RemoteImage(c.Request.Context(), req.ImageURL)
	if err != nil {
		slog.Warn("load session image", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to load image"})
		return "", nil, false
	}
	return req.ImageURL, chroma.ResizeWithinMax(img, s.cfg.Removal.MaxDimension), true
}

func (s *Server) createSession(c *gin.Context) {
	url, img, ok := s.loadImage(c)
	if !ok {
		return
	}
	sess := session.New(ksuid.New().String(), s.cfg.Removal.DefaultTolerance)
	sess.SetImage(url, img)
	s.sessions.add(sess)
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) getSession(c *gin.Context, sess *session.Session) {
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) setSessionImage(c *gin.Context, sess *session.Session) {
	if sess.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrRunActive.Error()})
		return
	}
	url, img, ok := s.loadImage(c)
	if !ok {
		return
	}
	sess.SetImage(url, img)
	c.JSON(http.StatusOK, sess.Snapshot())
}

type pickRequest struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

func (s *Server) pickColor(c *gin.Context, sess *session.Session) {
	var req pickRequest
	if !bindJSON(c, &req) {
		return
	}
	buf, err := sess.Buffer()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	color, ok := chroma.PickReference(buf, req.X, req.Y, req.DisplayWidth, req.DisplayHeight)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"color": nil})
		return
	}
	sess.SetReference(&color)
	c.JSON(http.StatusOK, gin.H{"color": color, "hex": color.Hex()})
}

type manualRequest struct {
	Tolerance *int          `json:"tolerance"`
	Color     *chroma.Color `json:"color"`
	Hex       string        `json:"hex"`
}

func (s *Server) manualRemoval(c *gin.Context, sess *session.Session) {
	var req manualRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Hex != "" && req.Color == nil {
		color, err := chroma.ParseHexColor(req.Hex)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Color = &color
	}
	if req.Tolerance != nil {
		if err := chroma.ValidateTolerance(*req.Tolerance); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	// 全部校验通过后再改 session
	if req.Tolerance != nil {
		if err := sess.SetTolerance(*req.Tolerance); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Color != nil {
		sess.SetReference(req.Color)
	}

	ref, ok := sess.Reference()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": session.ErrNoReference.Error()})
		return
	}
	buf, err := sess.Buffer()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := chroma.Apply(buf, ref, sess.Tolerance())
	uri, err := util.EncodePNGDataURI(out.Image())
	if err != nil {
		slog.Error("encode manual result", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	sess.SetManualResult(uri)
	c.JSON(http.StatusOK, gin.H{
		"result":           uri,
		"color":            ref,
		"tolerance":        sess.Tolerance(),
		"transparentRatio": chroma.TransparentRatio(out.Image()),
	})
}

type compareRequest struct {
	Models []string `json:"models"`
	APIKey string   `json:"apiKey"`
}

// startCompare 后台跑所有模型，进度通过 GET /api/sessions/:id 查询
func (s *Server) startCompare(c *gin.Context, sess *session.Session) {
	var req compareRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	client, ok := s.clientFor(c, req.APIKey)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoAPIKey})
		return
	}
	models, err := s.models.Select(req.Models)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := sess.BeginRun(); {
	case errors.Is(err, session.ErrRunActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orch := rembg.NewOrchestrator(client,
		rembg.WithConcurrencyLimit(s.cfg.Compare.MaxConcurrency),
		rembg.WithRecorder(s.metrics),
	)
	imageURL := sess.ImageURL()

	s.runs.Add(1)
	s.metrics.RunStarted()
	go func() {
		defer s.runs.Done()
		defer s.metrics.RunFinished()
		defer util.Trace("compare " + sess.ID)()

		results := orch.RunAll(s.baseCtx, models, imageURL, sess.UpdateJob)
		sess.EndRun(results)
		s.sessions.add(sess)
	}()

	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) putScore(c *gin.Context, sess *session.Session) {
	var score session.Score
	if !bindJSON(c, &score) {
		return
	}
	got, err := sess.SetScore(c.Param("model"), score)
	switch {
	case errors.Is(err, session.ErrUnknownModel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, got)
	}
}

type saveRequest struct {
	Category      string `json:"category"`
	Name          string `json:"name"`
	Notes         string `json:"notes"`
	ImageAnalysis string `json:"imageAnalysis"`
}

func (s *Server) saveSession(c *gin.Context, sess *session.Session) {
	var req saveRequest
	if !bindJSON(c, &req) {
		return
	}
	snap := sess.Snapshot()
	if snap.Running {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrRunActive.Error()})
		return
	}
	rec := store.Record{
		Category:      strings.TrimSpace(req.Category),
		Name:          strings.TrimSpace(req.Name),
		Notes:         req.Notes,
		ImageAnalysis: req.ImageAnalysis,
		Scores:        snap.Scores,
		Results:       snap.Results,
		ImageURL:      snap.ImageURL,
	}
	if s.writeRecord(c, rec) {
		sess.MarkSaved()
	}
}
