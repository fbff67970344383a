package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultTTL     = time.Minute
)

// Target names one device to deliver to. Role is used for logs only
// ("caller", "receiver").
type Target struct {
	Role  string
	Token string
}

// Result is the outcome for one target.
type Result struct {
	Target    Target
	MessageID string
	Err       error
}

// Report aggregates the outcome of SendMany.
type Report struct {
	Results []Result
}

func (r Report) Attempted() int { return len(r.Results) }

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err returns a *PartialDeliveryError when at least one target failed.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialDeliveryError{Attempted: len(r.Results), Failed: failed}
}

// PartialDeliveryError reports failed targets of a multi-target send.
// Callers log it; it never fails a request by itself.
type PartialDeliveryError struct {
	Attempted int
	Failed    []Result
}

func (e *PartialDeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Target.Role, f.Err))
	}
	return fmt.Sprintf("push: %d of %d deliveries failed (%s)", len(e.Failed), e.Attempted, strings.Join(parts, "; "))
}

// Dispatcher delivers payloads through a Sender with a bounded timeout per
// delivery. It never retries.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	ttl     time.Duration
	log     *slog.Logger
}

type DispatcherConfig struct {
	Timeout time.Duration
	TTL     time.Duration
	Log     *slog.Logger
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{sender: sender, timeout: cfg.Timeout, ttl: cfg.TTL, log: cfg.Log}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.ttl <= 0 {
		d.ttl = DefaultTTL
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// Send delivers p to one target.
func (d *Dispatcher) Send(ctx context.Context, t Target, p Payload) Result {
	res := Result{Target: t}
	if d.sender == nil {
		res.Err = ErrNotConfigured
		return res
	}
	if t.Token == "" {
		res.Err = ErrNoToken
		return res
	}

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := d.sender.Send(sctx, Message{Token: t.Token, Data: p, HighPriority: true, TTL: d.ttl})
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", d.sender.Name(), err)
		d.log.Warn("push delivery failed", "transport", d.sender.Name(), "type", p.Type(), "target", t.Role, "err", err)
		return res
	}
	res.MessageID = id
	d.log.Debug("push delivered", "transport", d.sender.Name(), "type", p.Type(), "target", t.Role, "message_id", id)
	return res
}

// SendMany delivers p to every target concurrently. One failing target never
// prevents delivery to the others. Results keep the order of targets.
func (d *Dispatcher) SendMany(ctx context.Context, targets []Target, p Payload) Report {
	rep := Report{Results: make([]Result, len(targets))}
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			rep.Results[i] = d.Send(ctx, t, p)
		}(i, t)
	}
	wg.Wait()
	return rep
}

// Targets builds the target list from optional tokens, skipping empty ones.
func Targets(pairs ...Target) []Target {
	out := make([]Target, 0, len(pairs))
	for _, t := range pairs {
		if strings.TrimSpace(t.Token) != "" {
			out = append(out, t)
		}
	}
	return out
}
