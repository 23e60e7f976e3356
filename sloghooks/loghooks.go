package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querykit"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	FetchEvery    uint64
	// Optional key redactor. Defaults to a SHA-256 prefix of the key.
	Redact func(string) string
}

// Hooks logs querykit events to a *slog.Logger. Successful fetches and
// mutations log at debug, failures at warn.
type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	fetchCtr    atomic.Uint64
}

var _ querykit.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key querykit.Key) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querykit.fetch_started", "key", h.redact(key.String()))
}

func (h *Hooks) FetchSettled(key querykit.Key, took time.Duration, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("querykit.fetch_failed",
			"key", h.redact(key.String()),
			"took", took,
			"err", err)
		return
	}
	if !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querykit.fetch_settled",
		"key", h.redact(key.String()),
		"took", took)
}

func (h *Hooks) QueryRemoved(key querykit.Key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querykit.query_removed",
		"key", h.redact(key.String()),
		"reason", reason)
}

func (h *Hooks) MutationSettled(key querykit.Key, took time.Duration, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("querykit.mutation_failed",
			"key", h.redact(key.String()),
			"took", took,
			"err", err)
		return
	}
	h.l.Debug("querykit.mutation_settled",
		"key", h.redact(key.String()),
		"took", took)
}

func (h *Hooks) PersistSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("querykit.persist_self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) PersistSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("querykit.persist_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenError(op, storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querykit.gen_error",
		"op", op,
		"key", h.redact(storageKey),
		"err", err)
}
