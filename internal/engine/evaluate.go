package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sujalbistaa/trustdesk/internal/credibility"
	"github.com/sujalbistaa/trustdesk/internal/detector"
	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/signals"
)

// EvaluatePost scores a post and stores its credibility and spam verdict.
// A stored result is returned unchanged unless the content, the author's
// trust version or the reaction count moved, or force is set. Collaborator
// outages degrade the score instead of failing it.
func (e *Engine) EvaluatePost(ctx context.Context, post models.Post, force bool) (Evaluation, error) {
	const op = "engine.evaluate_post"
	post.ID = trimmed(post.ID)
	post.AuthorID = trimmed(post.AuthorID)
	if post.ID == "" {
		return Evaluation{}, errs.Validation(op, "id is required")
	}
	if post.AuthorID == "" {
		return Evaluation{}, errs.Validation(op, "authorId is required")
	}

	eng := e.engagement(ctx, post.ID)

	profile, hasProfile, err := e.trust.Lookup(ctx, post.AuthorID)
	if err != nil {
		return Evaluation{}, err
	}

	if !force {
		if cached, ok, err := e.stored(ctx, post, profile.Version, eng); err != nil {
			return Evaluation{}, err
		} else if ok {
			e.metrics.ObserveEvaluation(true)
			return cached, nil
		}
	}

	author, detectorAuthor := e.author(ctx, post.AuthorID)
	author.HasTrustProfile = hasProfile
	author.TrustScore = profile.Score
	if author.RecentRemovals, err = e.trust.RecentRemovals(ctx, post.AuthorID); err != nil {
		return Evaluation{}, err
	}

	now := e.now()
	features := signals.Extract(post)
	verdict := e.detector.Detect(features, detectorAuthor)
	cred := e.scorer.Score(post, features, verdict.RiskScore, author, eng, now)
	cred.AuthorTrustVersion = profile.Version

	spam := models.SpamVerdict{
		PostID:      post.ID,
		AuthorID:    post.AuthorID,
		IsSpam:      verdict.IsSpam,
		Confidence:  verdict.Confidence,
		RiskScore:   verdict.RiskScore,
		RiskLevel:   verdict.RiskLevel,
		RiskFlags:   verdict.RiskFlags,
		AutoHide:    verdict.AutoHide,
		ProcessedAt: now,
	}

	if err := e.verdicts.Save(ctx, cred, spam); err != nil {
		return Evaluation{}, err
	}
	if err := e.trust.RecordObservation(ctx, post.AuthorID, post.ID, cred.Score, author.HistoricalPosts); err != nil {
		return Evaluation{}, err
	}
	if _, err := e.moderation.AttachDetection(ctx, spam); err != nil {
		return Evaluation{}, err
	}

	for _, dep := range cred.Degraded {
		e.metrics.ObserveFallback(dep)
	}
	e.metrics.ObserveEvaluation(false)
	e.metrics.ObserveVerdict(string(spam.RiskLevel), spam.AutoHide)

	fields := logging.Fields{
		"post_id": post.ID, "author_id": post.AuthorID, "score": cred.Score,
		"risk_score": spam.RiskScore, "is_spam": spam.IsSpam,
	}
	if len(cred.Degraded) > 0 {
		fields["degraded"] = cred.Degraded
	}
	e.log.WithFields(fields).Info("Evaluated post")

	if spam.AutoHide {
		e.notifier.Notify(models.EventPostAutoHidden, spam)
	}
	return Evaluation{Credibility: cred, Spam: spam}, nil
}

// stored returns the saved evaluation when it still matches the post.
func (e *Engine) stored(ctx context.Context, post models.Post, trustVersion int64, eng credibility.Engagement) (Evaluation, bool, error) {
	cred, ok, err := e.verdicts.Credibility(ctx, post.ID)
	if err != nil || !ok {
		return Evaluation{}, false, err
	}
	spam, ok, err := e.verdicts.Spam(ctx, post.ID)
	if err != nil || !ok {
		return Evaluation{}, false, err
	}

	switch {
	case cred.ContentHash != signals.Fingerprint(post):
		return Evaluation{}, false, nil
	case cred.AuthorTrustVersion != trustVersion:
		return Evaluation{}, false, nil
	case !eng.Unavailable && abs(eng.Reactions.Total()-cred.ReactionCount) >= e.reactionDelta:
		return Evaluation{}, false, nil
	case !eng.Unavailable && contains(cred.Degraded, credibility.DependencyContent):
		// The content store is back; rescore with real engagement.
		return Evaluation{}, false, nil
	}
	return Evaluation{Credibility: cred, Spam: spam, Cached: true}, true, nil
}

// engagement fetches reactions. A post unknown to the content store has none.
func (e *Engine) engagement(ctx context.Context, postID string) credibility.Engagement {
	if e.reactions == nil {
		return credibility.Engagement{Unavailable: true}
	}
	r, err := e.reactions.Reactions(ctx, postID)
	switch {
	case err == nil:
		return credibility.Engagement{Reactions: r}
	case errors.Is(err, errs.ErrNotFound):
		return credibility.Engagement{}
	default:
		e.log.WithError(err).WithField("post_id", postID).Warn("Reaction lookup failed, using neutral engagement")
		return credibility.Engagement{Unavailable: true}
	}
}

// author fetches the identity profile. The detector context is nil unless the
// author is known.
func (e *Engine) author(ctx context.Context, userID string) (credibility.AuthorContext, *detector.AuthorContext) {
	if e.profiles == nil {
		return credibility.AuthorContext{ProfileUnavailable: true}, nil
	}
	p, err := e.profiles.Profile(ctx, userID)
	switch {
	case err == nil:
		age := e.now().Sub(p.AccountCreatedAt)
		if p.AccountCreatedAt.IsZero() || age < 0 {
			age = 0
		}
		d := detector.AuthorContext{Verified: p.Verified, AccountAge: age, HistoricalPosts: p.PostCount}
		return credibility.AuthorContext{
			Verified:        d.Verified,
			AccountAge:      d.AccountAge,
			HistoricalPosts: d.HistoricalPosts,
		}, &d
	case errors.Is(err, errs.ErrNotFound):
		return credibility.AuthorContext{}, nil
	default:
		e.log.WithError(err).WithField("author_id", userID).Warn("Profile lookup failed, using neutral author trust")
		return credibility.AuthorContext{ProfileUnavailable: true}, nil
	}
}

// GetPostCredibility returns the stored credibility of a post.
func (e *Engine) GetPostCredibility(ctx context.Context, postID string) (models.PostCredibility, error) {
	const op = "engine.get_post_credibility"
	postID = trimmed(postID)
	if postID == "" {
		return models.PostCredibility{}, errs.Validation(op, "postId is required")
	}
	c, ok, err := e.verdicts.Credibility(ctx, postID)
	if err != nil {
		return c, fmt.Errorf("get credibility: %w", err)
	}
	if !ok {
		return c, errs.NotFound(op, "no credibility for post %s", postID)
	}
	return c, nil
}

// GetSpamVerdict returns the stored spam verdict of a post.
func (e *Engine) GetSpamVerdict(ctx context.Context, postID string) (models.SpamVerdict, error) {
	const op = "engine.get_spam_verdict"
	postID = trimmed(postID)
	if postID == "" {
		return models.SpamVerdict{}, errs.Validation(op, "postId is required")
	}
	s, ok, err := e.verdicts.Spam(ctx, postID)
	if err != nil {
		return s, fmt.Errorf("get spam verdict: %w", err)
	}
	if !ok {
		return s, errs.NotFound(op, "no spam verdict for post %s", postID)
	}
	return s, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
