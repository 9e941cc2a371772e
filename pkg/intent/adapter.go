package intent

import (
	"context"
	"errors"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/providers"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/sethvargo/go-retry"
)

// Fallback causes reported on heuristic intents.
const (
	CauseDisabled  = "resolver_disabled"
	CauseTimeout   = "timeout"
	CauseUpstream  = "upstream_unavailable"
	CauseMalformed = "malformed_response"
)

type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	HistoryLimit  int
	ReferenceScan int
	// Devices are listed to the resolver on every call, including the first
	// turn of a session whose device cache is still empty.
	Devices       []KnownDevice
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Timeout:       cfg.Intent.Timeout.Std(),
		MaxRetries:    cfg.Intent.MaxRetries,
		RetryBackoff:  cfg.Intent.RetryBackoff.Std(),
		HistoryLimit:  cfg.Session.HistoryWindowTurns * 2,
		ReferenceScan: cfg.Session.ReferenceScan,
		Devices:       DevicesFrom(cfg.Devices.Seed),
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 40
	}
	if o.ReferenceScan <= 0 {
		o.ReferenceScan = 3
	}
	return o
}

// Adapter turns user text into an intent. The collaborator is tried first;
// any failure degrades to the heuristic chain, so Resolve always returns a
// usable intent.
type Adapter struct {
	collab    Collaborator
	opts      Options
	heuristic Heuristic
}

// NewAdapter builds an adapter. A nil collaborator means every turn is
// resolved heuristically.
func NewAdapter(collab Collaborator, opts Options) *Adapter {
	opts = opts.withDefaults()
	return &Adapter{
		collab:    collab,
		opts:      opts,
		heuristic: Heuristic{ReferenceScan: opts.ReferenceScan},
	}
}

// Resolve expects snap to hold the conversation before text; text is sent
// separately and must not be the newest history turn.
func (a *Adapter) Resolve(ctx context.Context, text string, snap session.Session, hint string) Intent {
	if a.collab == nil {
		return a.heuristic.Resolve(text, "", snap, hint, CauseDisabled)
	}

	req := Request{
		Text:          text,
		History:       snap.RecentHistory(a.opts.HistoryLimit),
		Devices:       a.opts.Devices,
		DeviceContext: snap.DeviceStates,
		TrustScore:    snap.TrustScore,
		ReferenceHint: hint,
	}
	raw, err := a.call(ctx, req)
	if err != nil {
		cause := CauseUpstream
		if errors.Is(err, context.DeadlineExceeded) {
			cause = CauseTimeout
		}
		logger.WarnCF("intent", "Intent resolver failed, using fallback",
			map[string]interface{}{
				"session_id": snap.ID,
				"cause":      cause,
				"error":      err.Error(),
			})
		return a.heuristic.Resolve(text, "", snap, hint, cause)
	}

	resolved, err := Decode(raw)
	if err != nil {
		logger.WarnCF("intent", "Intent resolver output rejected, using fallback",
			map[string]interface{}{
				"session_id": snap.ID,
				"cause":      CauseMalformed,
				"error":      err.Error(),
			})
		return a.heuristic.Resolve(text, raw, snap, hint, CauseMalformed)
	}
	return mergeReference(resolved, text, hint)
}

// call invokes the collaborator with a per-attempt timeout, retrying only
// errors the provider layer classified as transient.
func (a *Adapter) call(ctx context.Context, req Request) (string, error) {
	backoff := retry.WithMaxRetries(uint64(a.opts.MaxRetries), retry.NewExponential(a.opts.RetryBackoff))

	var raw string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()

		out, err := a.collab.ResolveIntent(callCtx, req)
		if err != nil {
			if ctx.Err() == nil && (providers.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)) {
				logger.DebugCF("intent", "Retrying intent resolver",
					map[string]interface{}{"attempt": attempt, "error": err.Error()})
				return retry.RetryableError(err)
			}
			return err
		}
		raw = out
		return nil
	})
	return raw, err
}

// mergeReference fills the device of a reference intent from the hint the
// reference resolver produced before the call.
func mergeReference(in Intent, text, hint string) Intent {
	if !in.HasReference {
		if word, ok := session.DetectReference(text); ok && in.InvolvesHardware && in.Device == "" {
			in.HasReference = true
			in.ReferenceWord = word
		}
	}
	if !in.HasReference || hint == "" {
		return in
	}
	if in.ResolvedDevice == "" {
		in.ResolvedDevice = hint
	}
	if in.Device == "" {
		in.Device = in.ResolvedDevice
	}
	return in
}
