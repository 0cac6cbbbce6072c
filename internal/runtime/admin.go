package runtime

import (
	"net/http"
	"time"

	"github.com/danmuck/candlewire/internal/auth"
	"github.com/danmuck/candlewire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminNode = "runtime"

// AdminHandler serves /health, /status and /metrics. /health is never
// behind the admin token.
func (s *Server) AdminHandler() http.Handler {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(adminNode))
	if len(s.cfg.AdminCORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AdminCORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": s.uptime().String(),
		})
	})
	guarded := r.Group("/")
	if s.cfg.AdminToken != "" {
		guarded.Use(auth.RequireToken(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	guarded.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"control": s.ControlEndpoint(),
			"stream":  s.StreamEndpoint(),
			"pattern": s.cfg.StreamPattern,
			"fps":     s.cfg.FrameRate,
			"runtime": s.dispatcher.Status(),
		})
	})
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started).Round(time.Second)
}
