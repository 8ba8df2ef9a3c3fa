package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned by Outbound.Check in strict mode when a
// (channel, chat_id) destination has exhausted its quota.
var ErrRateLimitExceeded = errors.New("outbound rate limit exceeded")

// Mode controls how Outbound behaves when a destination is over quota.
type Mode int

const (
	// Strict denials are a typed failure the caller must handle and the
	// message is not enqueued.
	Strict Mode = iota
	// Lenient denials are logged by the caller and the message is
	// enqueued anyway.
	Lenient
)

// Outbound guards each (channel, chat_id) destination with a two-tier
// sliding-window quota (per-minute, per-hour), per §4.6.
type Outbound struct {
	limiter   *Limiter
	mode      Mode
	perMinute int
	perHour   int
}

// NewOutbound builds an outbound limiter with the given per-minute/per-hour
// quotas and denial mode.
func NewOutbound(perMinute, perHour int, mode Mode) *Outbound {
	return &Outbound{
		limiter:   NewTiered(perMinute, perHour),
		mode:      mode,
		perMinute: perMinute,
		perHour:   perHour,
	}
}

// RateLimitError carries the retry_after duration alongside the sentinel so
// callers can report it to the user or to metrics.
type RateLimitError struct {
	Channel    string
	ChatID     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("outbound rate limit exceeded for %s:%s, retry after %s", e.Channel, e.ChatID, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// Check evaluates whether an outbound message to (channel, chatID) may be
// sent now. In Lenient mode a denial never errors: the caller should log a
// warning and enqueue regardless. In Strict mode a denial returns
// *RateLimitError and the caller must not enqueue.
func (o *Outbound) Check(channel, chatID string) error {
	key := channel + ":" + chatID
	allowed, retryAfter := o.limiter.Check(key)
	if allowed {
		return nil
	}
	if o.mode == Lenient {
		return nil
	}
	return &RateLimitError{Channel: channel, ChatID: chatID, RetryAfter: retryAfter}
}

// Allowed reports the same decision as Check but without the strict-mode
// error wrapping, for call sites that want the raw (allowed, retry_after)
// pair regardless of mode (e.g. a dashboard or E8 test). Like Check, this
// records a single event against the limiter; call it or Check, never both
// for the same logical publish attempt.
func (o *Outbound) Allowed(channel, chatID string) (bool, time.Duration) {
	return o.limiter.Check(channel + ":" + chatID)
}

// Gate makes exactly one limiter decision for (channel, chatID) and reports
// both the raw allowed/retryAfter pair and, in strict mode, a typed error on
// denial. Callers that need to log a lenient-mode denial should inspect the
// returned allowed flag rather than calling Check or Allowed a second time,
// since each call records a new attempt.
//
// Gate records the attempt immediately, before the caller has done
// anything with the decision. Callers that gate a side effect which can
// still fail after the decision (e.g. enqueuing onto a channel that might
// never accept the send) should use Reserve and Commit instead, so the
// limiter only ever counts attempts that were actually delivered.
func (o *Outbound) Gate(channel, chatID string) (allowed bool, retryAfter time.Duration, err error) {
	allowed, retryAfter = o.limiter.Check(channel + ":" + chatID)
	if allowed || o.mode == Lenient {
		return allowed, retryAfter, nil
	}
	return allowed, retryAfter, &RateLimitError{Channel: channel, ChatID: chatID, RetryAfter: retryAfter}
}

// Reserve evaluates the same decision as Gate without recording it. The
// caller must call Commit exactly once, and only after the gated side
// effect actually succeeds, so that a message that is reserved but never
// delivered (e.g. the caller's context is canceled first) never consumes
// quota.
func (o *Outbound) Reserve(channel, chatID string) (allowed bool, retryAfter time.Duration, err error) {
	allowed, retryAfter = o.limiter.Peek(channel + ":" + chatID)
	if allowed || o.mode == Lenient {
		return allowed, retryAfter, nil
	}
	return allowed, retryAfter, &RateLimitError{Channel: channel, ChatID: chatID, RetryAfter: retryAfter}
}

// Commit records one delivered send against (channel, chatID)'s window.
// Pair with Reserve.
func (o *Outbound) Commit(channel, chatID string) {
	o.limiter.Record(channel + ":" + chatID)
}

// GC prunes empty per-key entries. Intended to run periodically.
func (o *Outbound) GC() { o.limiter.GC() }
