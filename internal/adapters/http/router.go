package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Calls/internal/adapters/signal"
	"github.com/dkeye/Calls/internal/app/orch"
	"github.com/dkeye/Calls/internal/config"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable token kept in the cookie session.
// It only correlates reconnects in logs; session ids stay per connection.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type sessionView struct {
	ID     string `json:"id"`
	Client string `json:"client,omitempty"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallsSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.Signal.ReadLimit,
		PingPeriod:   cfg.Signal.PingPeriod,
		WriteWait:    cfg.Signal.WriteWait,
		SendBuffer:   cfg.Signal.SendBuffer,
		RateLimit:    cfg.Signal.RateLimit,
		RateInterval: cfg.Signal.RateInterval,
	})
	handleWS := func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}
	r.GET("/callHandler", handleWS)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(o.Metrics)))

	api := r.Group("/api")
	api.GET("/ws/signal", handleWS)

	// GET /api/sessions: live signal connections in join order
	api.GET("/sessions", func(c *gin.Context) {
		snap := o.Registry.Snapshot()
		out := make([]sessionView, 0, len(snap))
		for _, s := range snap {
			out = append(out, sessionView{ID: string(s.SID), Client: s.Client})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
	})

	// GET /api/peers: peer connection handles bound via connect
	api.GET("/peers", func(c *gin.Context) {
		handles := o.Peers.All()
		out := make([]domain.PeerInfo, 0, len(handles))
		for _, mc := range handles {
			out = append(out, mc.Info())
		}
		c.JSON(http.StatusOK, gin.H{"peers": out, "count": len(out)})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
