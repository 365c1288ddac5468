package link

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/protocol/session"
	"github.com/danmuck/buslink/internal/relay"
)

var (
	ErrPushUnsupported = errors.New("link: push unsupported on this platform")
	ErrInvalidVAPIDKey = errors.New("link: invalid vapid public key")
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Capabilities lists the platform features push delivery needs.
type Capabilities struct {
	Notifications    bool
	PushManager      bool
	BackgroundWorker bool
}

func (c Capabilities) Supported() bool {
	return c.Notifications && c.PushManager && c.BackgroundWorker
}

// Platform is the local notification runtime.
type Platform interface {
	Capabilities() Capabilities
	Permission() Permission
	// RequestPermission prompts the user. It is only called from an
	// interactive reconciliation.
	RequestPermission(ctx context.Context) (Permission, error)
	EnsureRegistration(ctx context.Context) (Registration, error)
}

// Registration is a background worker able to hold one push subscription.
type Registration interface {
	// Subscription returns the existing subscription, or nil.
	Subscription(ctx context.Context) (*relay.PushSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (relay.PushSubscription, error)
}

// HeadlessPlatform has no notification support. Terminal clients use it.
type HeadlessPlatform struct{}

func (HeadlessPlatform) Capabilities() Capabilities { return Capabilities{} }
func (HeadlessPlatform) Permission() Permission     { return PermissionDenied }

func (HeadlessPlatform) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, ErrPushUnsupported
}

func (HeadlessPlatform) EnsureRegistration(context.Context) (Registration, error) {
	return nil, ErrPushUnsupported
}

type PushOutcome string

const (
	PushOutcomeNotPaired          PushOutcome = "not_paired"
	PushOutcomeUnsupported        PushOutcome = "unsupported"
	PushOutcomeRelayNotConfigured PushOutcome = "relay_not_configured"
	PushOutcomeActionRequired     PushOutcome = "action_required"
	PushOutcomePermissionDenied   PushOutcome = "permission_denied"
	PushOutcomeEnabled            PushOutcome = "enabled"
	PushOutcomeFailed             PushOutcome = "failed"
)

// PushTarget is the session a reconciliation pass registers for.
type PushTarget struct {
	State session.State
	Relay PushRelay
}

// PushReconciler brings the platform subscription and the relay's record of
// it into agreement. Every step is idempotent.
type PushReconciler struct {
	platform Platform
	sink     Listener
}

func NewPushReconciler(p Platform, sink Listener) *PushReconciler {
	if p == nil {
		p = HeadlessPlatform{}
	}
	if sink == nil {
		sink = NopListener{}
	}
	return &PushReconciler{platform: p, sink: sink}
}

// Sync runs one reconciliation pass. Only an interactive pass may prompt for
// permission. Outcomes other than PushOutcomeFailed carry a nil error.
func (r *PushReconciler) Sync(ctx context.Context, target PushTarget, interactive bool) (PushOutcome, error) {
	if !target.State.Paired || target.Relay == nil {
		return PushOutcomeNotPaired, nil
	}
	if !r.platform.Capabilities().Supported() {
		r.status("Push unavailable on this platform.")
		return PushOutcomeUnsupported, nil
	}

	cfg, err := target.Relay.PushConfig(ctx)
	if err != nil {
		return r.fail(err)
	}
	if !cfg.Enabled || strings.TrimSpace(cfg.VAPIDPublicKey) == "" {
		r.status("Relay push is not configured.")
		return PushOutcomeRelayNotConfigured, nil
	}

	permission := r.platform.Permission()
	if permission != PermissionGranted {
		if !interactive {
			r.status("Run enable-push to turn on notifications.")
			return PushOutcomeActionRequired, nil
		}
		permission, err = r.platform.RequestPermission(ctx)
		if err != nil {
			return r.fail(err)
		}
	}
	if permission != PermissionGranted {
		r.status(fmt.Sprintf("Notifications are %s.", permission))
		return PushOutcomePermissionDenied, nil
	}

	reg, err := r.platform.EnsureRegistration(ctx)
	if err != nil {
		return r.fail(err)
	}
	sub, err := reg.Subscription(ctx)
	if err != nil {
		return r.fail(err)
	}
	if sub == nil {
		key, err := decodeVAPIDKey(cfg.VAPIDPublicKey)
		if err != nil {
			return r.fail(err)
		}
		created, err := reg.Subscribe(ctx, key)
		if err != nil {
			return r.fail(err)
		}
		sub = &created
	}

	err = target.Relay.PushSubscribe(ctx, relay.PushSubscribeRequest{
		ToDeviceID:   target.State.ClientDeviceID,
		Subscription: *sub,
	})
	if err != nil {
		return r.fail(err)
	}
	log.Info().
		Str("client_device_id", target.State.ClientDeviceID).
		Str("endpoint", sub.Endpoint).
		Msg("link.PushReconciler.Sync enabled")
	r.status("Push enabled.")
	r.sink.OnMessage(systemMessage("Push enabled on this device."))
	return PushOutcomeEnabled, nil
}

func (r *PushReconciler) status(text string) {
	r.sink.OnStatus(TopicPush, text)
}

func (r *PushReconciler) fail(err error) (PushOutcome, error) {
	log.Warn().Err(err).Msg("link.PushReconciler.Sync failed")
	r.status("Push setup failed: " + err.Error())
	return PushOutcomeFailed, err
}

// decodeVAPIDKey decodes the relay's base64url application server key.
func decodeVAPIDKey(raw string) ([]byte, error) {
	cleaned := strings.TrimRight(strings.TrimSpace(raw), "=")
	cleaned = strings.NewReplacer("-", "+", "_", "/").Replace(cleaned)
	key, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVAPIDKey, err)
	}
	return key, nil
}
