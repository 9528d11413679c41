package relay

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/nyroxsystems-boop/partsync/internal/version"
)

func (s *Server) setupRoutes() http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())

	r.GET("/", s.indexHandler)
	r.GET("/health", s.healthHandler)
	r.GET("/api/status", s.statusHandler)
	r.GET("/ws", s.wsAuth, s.hub.Handler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r.Handler()
}

func (s *Server) indexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func (s *Server) healthHandler(ctx *gin.Context) {
	uptime := time.Since(s.started)
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":      "ok",
		"name":        s.config.Name,
		"version":     version.Version,
		"uptime":      uptime.Milliseconds(),
		"uptimeHuman": humanize.Time(s.started),
	})
}

func (s *Server) statusHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"port":    addrPort(s.config.Http.Addr),
	})
}

// wsAuth checks the opaque project token when the relay is started with one.
func (s *Server) wsAuth(ctx *gin.Context) {
	if s.config.Token != "" && ctx.Query("token") != s.config.Token {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	ctx.Next()
}

func addrPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return port
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
