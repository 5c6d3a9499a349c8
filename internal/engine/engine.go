// Package engine is the boundary of the trust service: post evaluation, flag
// intake, the moderation queue and user trust, with collaborator fallbacks.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/credibility"
	"github.com/sujalbistaa/trustdesk/internal/detector"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/metrics"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/moderation"
	"github.com/sujalbistaa/trustdesk/internal/store"
	"github.com/sujalbistaa/trustdesk/internal/trust"
)

// ProfileSource looks up author profiles.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (models.AuthorProfile, error)
	Invalidate(userID string)
}

// ReactionSource reports a post's reaction counts.
type ReactionSource interface {
	Reactions(ctx context.Context, postID string) (models.Reactions, error)
}

// Options wires an Engine. Profiles and Reactions may be nil, which makes the
// dependency permanently unavailable.
type Options struct {
	Verdicts   *store.Verdicts
	Moderation *moderation.Service
	Trust      *trust.Aggregator
	Profiles   ProfileSource
	Reactions  ReactionSource
	Detector   *detector.Detector
	Scorer     *credibility.Scorer
	Notifier   moderation.Notifier
	Metrics    *metrics.Metrics
	Log        logging.Logger

	// RecomputeReactionDelta is the reaction count movement that invalidates
	// a stored score.
	RecomputeReactionDelta int
}

type Engine struct {
	verdicts   *store.Verdicts
	moderation *moderation.Service
	trust      *trust.Aggregator
	profiles   ProfileSource
	reactions  ReactionSource
	detector   *detector.Detector
	scorer     *credibility.Scorer
	notifier   moderation.Notifier
	metrics    *metrics.Metrics
	log        logging.Logger

	reactionDelta int
	now           func() time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		verdicts:      opts.Verdicts,
		moderation:    opts.Moderation,
		trust:         opts.Trust,
		profiles:      opts.Profiles,
		reactions:     opts.Reactions,
		detector:      opts.Detector,
		scorer:        opts.Scorer,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		log:           opts.Log,
		reactionDelta: opts.RecomputeReactionDelta,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if e.detector == nil {
		e.detector = detector.New(detector.DefaultConfig())
	}
	if e.scorer == nil {
		e.scorer = credibility.New(credibility.DefaultWeights())
	}
	if e.reactionDelta <= 0 {
		e.reactionDelta = 10
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	return e
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, interface{}) {}

// Evaluation is the result of scoring one post.
type Evaluation struct {
	Credibility models.PostCredibility `json:"credibility"`
	Spam        models.SpamVerdict     `json:"spam"`
	// Cached is true when the stored result was still valid.
	Cached bool `json:"cached"`
}

func trimmed(s string) string { return strings.TrimSpace(s) }
