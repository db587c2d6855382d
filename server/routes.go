package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgcompare/proxy"
	"github.com/chaos-io/bgcompare/store"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(), s.requestLogger(), bodyLimit(int64(s.cfg.Server.BodyLimitMB)<<20))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.count()})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	api.GET("/config", s.getConfig)
	api.POST("/analyze-image", s.analyzeImage)
	api.GET("/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": s.models.Models()})
	})
	api.GET("/categories", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"categories": store.Categories})
	})

	api.PUT("/settings/api-key", s.putAPIKey)
	api.DELETE("/settings/api-key", s.deleteAPIKey)

	sess := api.Group("/sessions")
	sess.POST("", s.createSession)
	sess.GET("/:id", s.withSession(s.getSession))
	sess.PUT("/:id/image", s.withSession(s.setSessionImage))
	sess.POST("/:id/pick", s.withSession(s.pickColor))
	sess.POST("/:id/manual", s.withSession(s.manualRemoval))
	sess.POST("/:id/compare", s.withSession(s.startCompare))
	sess.PUT("/:id/scores/:model", s.withSession(s.putScore))
	sess.POST("/:id/save", s.withSession(s.saveSession))

	api.GET("/records", s.listRecords)
	api.POST("/records", s.createRecord)
	api.DELETE("/records/:id", s.deleteRecord)

	r.Any(proxy.DefaultPrefix+"/*path", s.proxy.Handler())

	r.NoRoute(s.static(s.cfg.Server.StaticDir))
	return r
}
