package devrelay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/auth"
	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/relay"
)

type offerRequest struct {
	NodeDeviceID string `json:"node_device_id" binding:"required"`
	RelayURL     string `json:"relay_url" binding:"omitempty,url"`
}

type offerResponse struct {
	Version      int    `json:"v"`
	RelayURL     string `json:"relay_url"`
	NodeDeviceID string `json:"node_device_id"`
	PairCode     string `json:"pair_code"`
	PSKB64       string `json:"psk_b64"`
	ExpiresAt    int64  `json:"expires_at"`
	PairB64      string `json:"pair_b64"`
}

type envelopeRequest struct {
	Version       int    `json:"v" binding:"required,eq=1"`
	MsgID         string `json:"msg_id" binding:"required"`
	ConvID        string `json:"conv_id"`
	FromDeviceID  string `json:"from_device_id" binding:"required"`
	ToDeviceID    string `json:"to_device_id" binding:"required"`
	Dir           string `json:"dir"`
	Seq           uint64 `json:"seq" binding:"required,min=1"`
	CreatedMS     int64  `json:"created_ms"`
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

func (r envelopeRequest) envelope() envelope.Envelope {
	return envelope.Envelope{
		Version:       r.Version,
		MsgID:         r.MsgID,
		ConvID:        r.ConvID,
		FromDeviceID:  r.FromDeviceID,
		ToDeviceID:    r.ToDeviceID,
		Dir:           r.Dir,
		Seq:           r.Seq,
		CreatedMS:     r.CreatedMS,
		NonceB64:      r.NonceB64,
		CiphertextB64: r.CiphertextB64,
	}
}

type pollQuery struct {
	ToDeviceID string `form:"to_device_id" binding:"required"`
	Limit      int    `form:"limit" binding:"omitempty,min=1"`
}

func (s *Server) requireOfferToken() gin.HandlerFunc {
	if s.opts.OfferToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	v := auth.StaticToken{Token: s.opts.OfferToken}
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			log.Warn().Str("remote", c.ClientIP()).Msg("devrelay.Server.offer unauthorized")
			writeDetail(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	relayURL := strings.TrimSpace(req.RelayURL)
	if relayURL == "" {
		relayURL = s.publicURL(c)
	}
	offer, err := s.Offer(strings.TrimSpace(req.NodeDeviceID), relayURL)
	if err != nil {
		writeDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().
		Str("node_device_id", offer.Payload.NodeDeviceID).
		Time("expires_at", offer.ExpiresAt).
		Msg("devrelay.Server.offer published")
	p := offer.Payload
	c.JSON(http.StatusCreated, offerResponse{
		Version:      p.Version,
		RelayURL:     p.RelayURL,
		NodeDeviceID: p.NodeDeviceID,
		PairCode:     p.PairCode,
		PSKB64:       p.PSKB64,
		ExpiresAt:    p.ExpiresAt,
		PairB64:      offer.PairB64,
	})
}

func (s *Server) handleClaim(c *gin.Context) {
	var req relay.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	claim, err := s.Claim(req)
	switch {
	case err == nil:
		log.Info().
			Str("node_device_id", claim.NodeDeviceID).
			Str("client_device_id", claim.ClientDeviceID).
			Msg("devrelay.Server.claim ok")
		c.JSON(http.StatusOK, gin.H{"status": "claimed", "node_device_id": claim.NodeDeviceID})
	case errors.Is(err, ErrOfferNotFound):
		writeDetail(c, http.StatusNotFound, "pair code not found")
	case errors.Is(err, ErrAlreadyClaimed):
		writeDetail(c, http.StatusConflict, "pair code already claimed")
	default:
		writeDetail(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handlePoll(c *gin.Context) {
	var q pollQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindError(c, err)
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultPollLimit
	}
	if limit > maxPollLimit {
		limit = maxPollLimit
	}
	envs := s.Drain(q.ToDeviceID, limit)
	c.JSON(http.StatusOK, gin.H{"envelopes": envs})
}

func (s *Server) handleEnvelope(c *gin.Context) {
	var req envelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	s.Deliver(req.envelope())
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "msg_id": req.MsgID})
}

func (s *Server) handlePushConfig(c *gin.Context) {
	cfg := relay.PushConfig{Enabled: s.opts.PushEnabled}
	if s.opts.PushEnabled {
		cfg.VAPIDPublicKey = s.opts.VAPIDPublicKey
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePushSubscribe(c *gin.Context) {
	var req relay.PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	if err := s.Subscribe(req.ToDeviceID, req.Subscription); err != nil {
		writeDetail(c, http.StatusConflict, "push is not enabled on this relay")
		return
	}
	log.Info().Str("to_device_id", req.ToDeviceID).Msg("devrelay.Server.push subscribed")
	c.JSON(http.StatusOK, gin.H{"status": "subscribed"})
}

func (s *Server) publicURL(c *gin.Context) string {
	if s.opts.PublicURL != "" {
		return s.opts.PublicURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

func handleBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			out[fe.Field()] = fmt.Sprintf("must satisfy %s", fe.Tag())
		}
		log.Warn().Err(err).Interface("fields", out).Msg("devrelay.Server invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request data", "errors": out})
		return
	}
	log.Warn().Err(err).Msg("devrelay.Server invalid request")
	writeDetail(c, http.StatusBadRequest, "invalid request data")
}
