package pkdiag

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the optional read-only HTTP diagnostics surface for a
// long-running pkhostctl/pkdevicectl process. It never performs
// protocol I/O; it only reports what a Recorder has observed.
type Server struct {
	role     string
	recorder *Recorder
	appeared time.Time
	router   *gin.Engine
}

// NewServer builds the diagnostics router for role ("host" or
// "device"), reporting through recorder.
func NewServer(role string, recorder *Recorder, logger zerolog.Logger, corsOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	corsCfg := cors.DefaultConfig()
	if len(corsOrigins) > 0 {
		corsCfg.AllowOrigins = corsOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	s := &Server{role: role, recorder: recorder, appeared: time.Now(), router: router}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"role":   s.role,
			"uptime": time.Since(s.appeared).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/chain", func(c *gin.Context) {
		snap := s.recorder.Current()
		if !snap.Active {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"active":      true,
			"root_op":     string(snap.RootOp),
			"root_object": snap.RootObject,
			"phase":       snap.Phase.String(),
			"sub_state":   snap.Sub.String(),
			"started_at":  snap.StartedAt,
			"retries":     snap.Retries,
		})
	})

	s.router.GET("/session", func(c *gin.Context) {
		totals := s.recorder.Totals()
		c.JSON(http.StatusOK, gin.H{
			"role":          s.role,
			"uptime":        time.Since(s.appeared).String(),
			"chains":        totals,
			"last_event_at": s.recorder.LastEventAt(),
		})
	})
}
