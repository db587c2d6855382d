package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgcompare/replicate"
	"github.com/chaos-io/bgcompare/store"
)

const errNoAPIKey = "Replicate API key not provided"

func (s *Server) getConfig(c *gin.Context) {
	var key any
	if s.cfg.HasServerKey() {
		key = s.cfg.Replicate.APIKey
	}
	c.JSON(http.StatusOK, gin.H{
		"apiKey":       key,
		"hasServerKey": s.cfg.HasServerKey(),
	})
}

// clientFor 请求里的 token > 保存的 token > 服务端 key；都没有时返回 nil
func (s *Server) clientFor(c *gin.Context, requestToken string) (*replicate.Client, bool) {
	tok, err := s.settings.ResolveToken(c.Request.Context(), requestToken, s.cfg.Replicate.APIKey)
	if err != nil {
		slog.Warn("read stored api token", "err", err)
		tok = requestToken
		if tok == "" {
			tok = s.cfg.Replicate.APIKey
		}
	}
	if tok == "" {
		return nil, false
	}
	return s.client.WithToken(tok), true
}

type analyzeRequest struct {
	ImageURL        string `json:"imageUrl"`
	ReplicateAPIKey string `json:"replicateApiKey"`
}

func (s *Server) analyzeImage(c *gin.Context) {
	var req analyzeRequest
	if !bindJSON(c, &req) {
		return
	}
	client, ok := s.clientFor(c, req.ReplicateAPIKey)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoAPIKey})
		return
	}
	if req.ImageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageUrl is required"})
		return
	}

	analysis, err := client.Analyze(c.Request.Context(), req.ImageURL, s.cfg.AnalyzeOptions())
	if err != nil {
		status, msg, result := analysisError(err)
		slog.Error("image analysis", "result", result, "err", err)
		s.metrics.ObserveAnalysis(result)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	s.metrics.ObserveAnalysis("ok")
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

func analysisError(err error) (status int, msg, result string) {
	var re *replicate.Error
	switch {
	case errors.Is(err, replicate.ErrCreation) && errors.As(err, &re) && re.StatusCode > 0:
		return re.StatusCode, "Failed to create analysis", "creation"
	case errors.Is(err, replicate.ErrJobFailed):
		return http.StatusInternalServerError, "Analysis failed", "failed"
	case errors.Is(err, replicate.ErrTimeout):
		return http.StatusGatewayTimeout, "Analysis timed out", "timeout"
	default:
		return http.StatusInternalServerError, "Internal server error", "error"
	}
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func (s *Server) putAPIKey(c *gin.Context) {
	var req apiKeyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := s.settings.SetAPIToken(c.Request.Context(), req.APIKey); err != nil {
		storageFailure(c, "save api key", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteAPIKey(c *gin.Context) {
	if err := s.settings.ClearAPIToken(c.Request.Context()); err != nil {
		storageFailure(c, "clear api key", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listRecords(c *gin.Context) {
	list, err := s.records.List(c.Request.Context())
	if err != nil {
		storageFailure(c, "list records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": list})
}

func (s *Server) createRecord(c *gin.Context) {
	var rec store.Record
	if !bindJSON(c, &rec) {
		return
	}
	s.writeRecord(c, rec)
}

func (s *Server) writeRecord(c *gin.Context, rec store.Record) bool {
	saved, err := s.records.Create(c.Request.Context(), rec)
	switch {
	case errors.Is(err, store.ErrMissingCategory), errors.Is(err, store.ErrMissingName), errors.Is(err, store.ErrNoOutputs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	case err != nil:
		storageFailure(c, "save record", err)
		return false
	}
	c.JSON(http.StatusCreated, saved)
	return true
}

func (s *Server) deleteRecord(c *gin.Context) {
	err := s.records.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case err != nil:
		storageFailure(c, "delete record", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func storageFailure(c *gin.Context, op string, err error) {
	slog.Error(op, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage unavailable", "details": err.Error()})
}
