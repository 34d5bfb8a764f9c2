package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/adapters/signal"
	"github.com/dkeye/proximity/internal/app"
	"github.com/dkeye/proximity/internal/config"
	"github.com/dkeye/proximity/internal/proximity"
)

const tokenKey = "ct"

// Services is everything the router serves.
type Services struct {
	Registry *app.Registry
	Signal   *signal.SignalWSController
	Engine   proximity.Engine
	Gatherer prometheus.Gatherer
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session so
// log lines from one browser can be correlated across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(tokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(tokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc *Services) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("ProximitySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "participants": svc.Registry.Len()})
	})
	if svc.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		svc.Signal.HandleSignal(ctx, c)
	}
	r.GET("/ws", ws)

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/participants", listParticipants(svc))
	api.GET("/participants/:id", getParticipant(svc))
	api.GET("/clusters", listClusters(svc))

	return r
}
