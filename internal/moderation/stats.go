package moderation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/models"
)

// Stats summarizes the queue for the moderator dashboard.
type Stats struct {
	TotalFlags     int                       `json:"totalFlags"`
	PendingReviews int                       `json:"pendingReviews"`
	InReview       int                       `json:"inReview"`
	UrgentItems    int                       `json:"urgentItemsCount"`
	ResolvedToday  int                       `json:"resolvedToday"`
	PostsRemoved   int                       `json:"postsRemoved"`
	SpamDetected   int                       `json:"spamDetected"`
	QueueBreakdown map[models.FlagReason]int `json:"queueBreakdown"`
	// AverageResponseMinutes is the mean time from first flag to resolution
	// over the response window; zero when nothing was resolved.
	AverageResponseMinutes float64   `json:"averageResponseTime"`
	GeneratedAt            time.Time `json:"generatedAt"`
}

// Stats counts open work, recent resolutions and active flags by reason.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	db := s.db.WithContext(ctx)
	st := Stats{
		GeneratedAt: now,
		QueueBreakdown: map[models.FlagReason]int{
			models.ReasonSpam:           0,
			models.ReasonMisinformation: 0,
			models.ReasonHarassment:     0,
			models.ReasonOther:          0,
		},
	}

	var statusRows []struct {
		Status models.QueueStatus
		N      int
	}
	if err := db.Model(&models.QueueItem{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", []models.QueueStatus{models.QueuePending, models.QueueInReview}).
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return st, fmt.Errorf("count open items: %w", err)
	}
	for _, r := range statusRows {
		if r.Status == models.QueuePending {
			st.PendingReviews = r.N
		} else {
			st.InReview = r.N
		}
	}

	var n int64
	if err := db.Model(&models.QueueItem{}).
		Where("status IN ? AND priority = ?", []models.QueueStatus{models.QueuePending, models.QueueInReview}, models.PriorityHigh).
		Count(&n).Error; err != nil {
		return st, fmt.Errorf("count urgent items: %w", err)
	}
	st.UrgentItems = int(n)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Model(&models.QueueItem{}).
		Where("status = ? AND resolved_at >= ?", models.QueueResolved, dayStart).
		Count(&n).Error; err != nil {
		return st, fmt.Errorf("count resolved today: %w", err)
	}
	st.ResolvedToday = int(n)

	if err := db.Model(&models.QueueItem{}).
		Where("status = ? AND outcome = ?", models.QueueResolved, models.OutcomeRemoved).
		Count(&n).Error; err != nil {
		return st, fmt.Errorf("count removals: %w", err)
	}
	st.PostsRemoved = int(n)

	if err := db.Model(&models.SpamVerdict{}).Where("is_spam = ?", true).Count(&n).Error; err != nil {
		return st, fmt.Errorf("count spam verdicts: %w", err)
	}
	st.SpamDetected = int(n)

	var total int
	if err := db.Model(&models.Flag{}).Select("COALESCE(SUM(submission_count), 0)").Scan(&total).Error; err != nil {
		return st, fmt.Errorf("sum flags: %w", err)
	}
	st.TotalFlags = total

	var reasonRows []struct {
		Reason models.FlagReason
		N      int
	}
	if err := db.Model(&models.Flag{}).
		Select("reason, COUNT(*) AS n").
		Where("status IN ?", []models.FlagStatus{models.FlagPending, models.FlagReviewed}).
		Group("reason").
		Scan(&reasonRows).Error; err != nil {
		return st, fmt.Errorf("count flags by reason: %w", err)
	}
	for _, r := range reasonRows {
		st.QueueBreakdown[r.Reason] = r.N
	}

	var resolved []struct {
		FirstFlaggedAt time.Time
		ResolvedAt     time.Time
	}
	if err := db.Model(&models.QueueItem{}).
		Select("first_flagged_at, resolved_at").
		Where("status = ? AND resolved_at >= ?", models.QueueResolved, now.Add(-s.cfg.ResponseWindow)).
		Scan(&resolved).Error; err != nil {
		return st, fmt.Errorf("load resolution times: %w", err)
	}
	if len(resolved) > 0 {
		var sum time.Duration
		for _, r := range resolved {
			sum += r.ResolvedAt.Sub(r.FirstFlaggedAt)
		}
		avg := sum.Minutes() / float64(len(resolved))
		st.AverageResponseMinutes = math.Round(avg*10) / 10
	}
	return st, nil
}
