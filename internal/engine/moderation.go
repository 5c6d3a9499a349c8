package engine

import (
	"context"
	"strings"

	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/moderation"
)

// QueueFilter is an unparsed queue listing request. Empty fields mean no filter.
type QueueFilter struct {
	Status     string
	Priority   string
	Reason     string
	AssignedTo string
	Sort       string
	Limit      int
}

// SubmitFlag files a flag against a post. created is false when the reporter
// already had an active flag on the post.
func (e *Engine) SubmitFlag(ctx context.Context, in moderation.FlagInput) (models.Flag, bool, error) {
	flag, created, err := e.moderation.SubmitFlag(ctx, in)
	if err != nil {
		return flag, created, err
	}
	e.metrics.ObserveFlag(created)
	return flag, created, nil
}

func (e *Engine) ListFlags(ctx context.Context, postID string) ([]models.Flag, error) {
	return e.moderation.ListFlags(ctx, postID)
}

// ListQueue returns queue items in review order.
func (e *Engine) ListQueue(ctx context.Context, f QueueFilter) ([]models.QueueItem, error) {
	const op = "engine.list_queue"
	var filter moderation.ListFilter
	if s := strings.TrimSpace(f.Status); s != "" {
		status, ok := models.ParseQueueStatus(s)
		if !ok {
			return nil, errs.Validation(op, "status %q must be pending, in_review or resolved", s)
		}
		filter.Status = status
	}
	if p := strings.TrimSpace(f.Priority); p != "" {
		priority, ok := models.ParsePriority(p)
		if !ok {
			return nil, errs.Validation(op, "priority %q must be low, medium or high", p)
		}
		filter.Priority = priority
	}
	if r := strings.TrimSpace(f.Reason); r != "" {
		reason, ok := models.ParseFlagReason(r)
		if !ok {
			return nil, errs.Validation(op, "reason %q must be one of spam, misinformation, harassment, other", r)
		}
		filter.Reason = reason
	}
	order, ok := moderation.ParseQueueSort(f.Sort)
	if !ok {
		return nil, errs.Validation(op, "sort %q must be priority, newest, oldest or most_flagged", f.Sort)
	}
	filter.Sort = order
	filter.AssignedTo = strings.TrimSpace(f.AssignedTo)
	if f.Limit < 0 {
		return nil, errs.Validation(op, "limit must not be negative")
	}
	filter.Limit = f.Limit
	return e.moderation.List(ctx, filter)
}

// QueueStats summarizes the queue for the moderator dashboard.
func (e *Engine) QueueStats(ctx context.Context) (moderation.Stats, error) {
	return e.moderation.Stats(ctx)
}

func (e *Engine) GetQueueItem(ctx context.Context, id string) (models.QueueItem, error) {
	return e.moderation.Get(ctx, trimmed(id))
}

func (e *Engine) ClaimQueueItem(ctx context.Context, id, moderatorID string) (models.QueueItem, error) {
	return e.moderation.Claim(ctx, trimmed(id), moderatorID)
}

func (e *Engine) ReleaseQueueItem(ctx context.Context, id, moderatorID string) (models.QueueItem, error) {
	return e.moderation.Release(ctx, trimmed(id), moderatorID)
}

// ResolveQueueItem closes a queue item. The author's cached profile is
// dropped so the next evaluation sees fresh identity data.
func (e *Engine) ResolveQueueItem(ctx context.Context, id, outcome, moderatorID string) (models.QueueItem, error) {
	item, err := e.moderation.Resolve(ctx, trimmed(id), strings.TrimSpace(outcome), moderatorID)
	if err != nil {
		return item, err
	}
	if item.AuthorID != "" && e.profiles != nil {
		e.profiles.Invalidate(item.AuthorID)
	}
	e.metrics.ObserveResolution(string(item.Outcome))
	return item, nil
}

func (e *Engine) QueueActions(ctx context.Context, id string) ([]models.ModerationAction, error) {
	return e.moderation.Actions(ctx, trimmed(id))
}

// GetUserTrust returns a user's trust profile. Users never scored or
// moderated are NotFound.
func (e *Engine) GetUserTrust(ctx context.Context, userID string) (models.UserTrustProfile, error) {
	userID = trimmed(userID)
	if userID == "" {
		return models.UserTrustProfile{}, errs.Validation("engine.get_user_trust", "userId is required")
	}
	return e.trust.Get(ctx, userID)
}

func (e *Engine) RecomputeUserTrust(ctx context.Context, userID string) (models.UserTrustProfile, error) {
	userID = trimmed(userID)
	if userID == "" {
		return models.UserTrustProfile{}, errs.Validation("engine.recompute_user_trust", "userId is required")
	}
	p, err := e.trust.Recompute(ctx, userID)
	if err != nil {
		return p, err
	}
	e.metrics.ObserveRecomputes(1)
	return p, nil
}

func (e *Engine) BadgeHistory(ctx context.Context, userID string) ([]models.BadgeAward, error) {
	userID = trimmed(userID)
	if userID == "" {
		return nil, errs.Validation("engine.badge_history", "userId is required")
	}
	if _, err := e.trust.Get(ctx, userID); err != nil {
		return nil, err
	}
	return e.trust.BadgeHistory(ctx, userID)
}
