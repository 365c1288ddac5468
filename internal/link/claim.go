package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/relay"
)

var (
	ErrClaimRejected  = errors.New("link: pairing claim rejected")
	ErrClaimExhausted = errors.New("link: pairing claim retries exhausted")
)

// ClaimError is a failed pairing claim. Kind is ErrClaimRejected or
// ErrClaimExhausted; Err is the last relay or transport error.
type ClaimError struct {
	Kind     error
	Attempts int
	Status   int
	Detail   string
	Err      error
}

func (e *ClaimError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "pairing claim failed"
}

func (e *ClaimError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Claim redeems req's pair code on the relay. Only failures accepted by
// policy.Retryable are retried, up to policy.MaxAttempts in total.
func Claim(ctx context.Context, c Claimer, req relay.ClaimRequest, policy session.RetryPolicy) error {
	res, err := session.Retry(ctx, policy, nil, func(ctx context.Context, attempt int) error {
		err := c.Claim(ctx, req)
		if err != nil {
			log.Debug().
				Int("attempt", attempt).
				Int("status", relay.StatusOf(err)).
				Err(err).
				Msg("link.Claim attempt failed")
		}
		return err
	})
	if err == nil {
		log.Info().
			Str("node_device_id", req.NodeDeviceID).
			Int("attempts", res.Attempts).
			Msg("link.Claim ok")
		return nil
	}

	kind := ErrClaimRejected
	if res.Exhausted {
		kind = ErrClaimExhausted
	}
	claimErr := &ClaimError{
		Kind:     kind,
		Attempts: res.Attempts,
		Status:   relay.StatusOf(err),
		Err:      err,
	}
	var httpErr *relay.HTTPError
	if errors.As(err, &httpErr) {
		claimErr.Detail = httpErr.Error()
	} else if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		claimErr.Detail = fmt.Sprintf("pairing claim canceled: %v", ctxErr)
	}
	log.Warn().
		Str("node_device_id", req.NodeDeviceID).
		Int("attempts", res.Attempts).
		Int("status", claimErr.Status).
		Bool("exhausted", res.Exhausted).
		Err(err).
		Msg("link.Claim failed")
	return claimErr
}
