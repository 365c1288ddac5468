package devrelay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/observability"
	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/relay"
)

const (
	defaultPollLimit = 50
	maxPollLimit     = 500
)

type Options struct {
	Name           string
	CorsOrigins    []string
	PairTTL        time.Duration
	InboxLimit     int
	PushEnabled    bool
	VAPIDPublicKey string
	// PublicURL is advertised as relay_url in pairing offers. When empty the
	// request's own scheme and host are used.
	PublicURL string
	// OfferToken, when set, is required as a bearer token to publish offers.
	OfferToken string
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "devrelay"
	}
	if o.PairTTL <= 0 {
		o.PairTTL = 10 * time.Minute
	}
	if o.InboxLimit <= 0 {
		o.InboxLimit = 500
	}
	return o
}

// Server is an in-memory relay: pairing offers and claims, per-device
// inboxes, and push subscription records. State is lost on restart.
type Server struct {
	opts     Options
	router   *gin.Engine
	offers   *cache.Cache
	appeared time.Time

	mu      sync.Mutex
	inboxes map[string][]envelope.Envelope
	claims  map[string]Claim
	subs    map[string]relay.PushSubscription
}

// Claim records which client redeemed a pair code.
type Claim struct {
	NodeDeviceID   string
	PairCode       string
	ClientDeviceID string
	ClaimedAt      time.Time
}

func New(opts Options) *Server {
	opts = opts.withDefaults()
	observability.RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		router:   r,
		offers:   cache.New(opts.PairTTL, time.Minute),
		appeared: time.Now(),
		inboxes:  make(map[string][]envelope.Envelope),
		claims:   make(map[string]Claim),
		subs:     make(map[string]relay.PushSubscription),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Serve(addr string) error {
	log.Info().Str("addr", addr).Str("relay", s.opts.Name).Msg("devrelay.Server.Serve listening")
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.opts.Name,
			"push":    s.opts.PushEnabled,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/pairing/offer", s.requireOfferToken(), s.handleOffer)
	v1.POST("/pairing/claim", s.handleClaim)
	v1.GET("/poll", s.handlePoll)
	v1.POST("/envelopes", s.handleEnvelope)
	v1.GET("/push/config", s.handlePushConfig)
	v1.POST("/push/subscribe", s.handlePushSubscribe)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
