// Package trust maintains per-user trust profiles from post credibility
// observations and moderation outcomes.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
)

// Badge names.
const (
	BadgeVerifiedInsight = "verified-insight"
	BadgeAnalystGrade    = "analyst-grade"
	BadgeSpeculative     = "speculative"
	BadgeNeedsReview     = "needs-review"
	BadgeCleanRecord     = "clean-record"
)

type Config struct {
	BaseScore     int
	HistoryWindow int
	Decay         float64

	RemovalPenalty    int
	ApprovalCredit    int
	MaxApprovalCredit int
	RemovalWindow     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseScore:         50,
		HistoryWindow:     50,
		Decay:             0.85,
		RemovalPenalty:    10,
		ApprovalCredit:    2,
		MaxApprovalCredit: 15,
		RemovalWindow:     30 * 24 * time.Hour,
	}
}

// riskMultiplier scales the removal penalty by the detector's risk level.
func riskMultiplier(level models.RiskLevel) float64 {
	switch level {
	case models.RiskMedium:
		return 1.5
	case models.RiskHigh:
		return 2.0
	default:
		return 1.0
	}
}

type Aggregator struct {
	db  *gorm.DB
	cfg Config
	log logging.Logger
	now func() time.Time
}

func NewAggregator(db *gorm.DB, cfg Config, log logging.Logger) *Aggregator {
	return &Aggregator{db: db, cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the stored profile of a user.
func (a *Aggregator) Get(ctx context.Context, userID string) (models.UserTrustProfile, error) {
	var p models.UserTrustProfile
	err := a.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, errs.NotFound("trust.get", "no trust profile for user %s", userID)
	}
	if err != nil {
		return p, fmt.Errorf("load trust profile: %w", err)
	}
	return p, nil
}

// Lookup is Get without the not-found error; ok is false for unknown users.
func (a *Aggregator) Lookup(ctx context.Context, userID string) (p models.UserTrustProfile, ok bool, err error) {
	p, err = a.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return p, false, nil
	}
	return p, err == nil, err
}

// RecentRemovals counts removals of the user's posts inside the removal window.
func (a *Aggregator) RecentRemovals(ctx context.Context, userID string) (int, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&models.TrustAdjustment{}).
		Where("user_id = ? AND outcome = ? AND created_at >= ?", userID, models.OutcomeRemoved, a.now().Add(-a.cfg.RemovalWindow)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count removals: %w", err)
	}
	return int(n), nil
}

// RecordObservation stores the latest credibility score of one post and the
// author's post count. The profile score is left for the next recompute.
func (a *Aggregator) RecordObservation(ctx context.Context, userID, postID string, score, postCount int) error {
	now := a.now()
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		obs := models.TrustObservation{UserID: userID, PostID: postID, Score: score, ObservedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "observed_at"}),
		}).Create(&obs).Error; err != nil {
			return fmt.Errorf("upsert observation: %w", err)
		}

		p, err := a.ensureProfile(tx, userID)
		if err != nil {
			return err
		}
		var observed int64
		if err := tx.Model(&models.TrustObservation{}).Where("user_id = ?", userID).Count(&observed).Error; err != nil {
			return fmt.Errorf("count observations: %w", err)
		}
		if total := max(p.TotalPosts, postCount, int(observed)); total != p.TotalPosts {
			if err := tx.Model(&models.UserTrustProfile{}).
				Where("user_id = ? AND total_posts < ?", userID, total).
				Update("total_posts", total).Error; err != nil {
				return fmt.Errorf("update post count: %w", err)
			}
		}
		return nil
	})
}

// ApplyResolution records the trust effect of one queue resolution inside tx
// and moves the current score by exactly that delta. Observations recorded
// since the last recompute are folded in by Recompute, not here. A queue item
// adjusts its author at most once.
func (a *Aggregator) ApplyResolution(tx *gorm.DB, userID, queueItemID string, outcome models.Outcome, risk models.RiskLevel) (models.UserTrustProfile, error) {
	p, err := a.ensureProfile(tx, userID)
	if err != nil {
		return p, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "user_id = ?", userID).Error; err != nil {
		return p, fmt.Errorf("lock trust profile: %w", err)
	}
	before := p

	var delta int
	switch outcome {
	case models.OutcomeRemoved:
		delta = -int(math.Round(float64(a.cfg.RemovalPenalty) * riskMultiplier(risk)))
		p.PostsRemoved++
	case models.OutcomeApproved:
		credit, err := a.approvalCredit(tx, userID)
		if err != nil {
			return p, err
		}
		delta = max(0, min(a.cfg.ApprovalCredit, a.cfg.MaxApprovalCredit-credit))
		p.PostsApproved++
	default:
		return p, errs.Validation("trust.apply", "unknown outcome %q", outcome)
	}

	adj := models.TrustAdjustment{UserID: userID, QueueItemID: queueItemID, Outcome: outcome, Delta: delta, CreatedAt: a.now()}
	if err := tx.Create(&adj).Error; err != nil {
		return p, fmt.Errorf("record trust adjustment: %w", err)
	}

	p.Score = clampScore(p.Score + delta)
	if err := a.saveProfile(tx, &p, before, true); err != nil {
		return p, err
	}
	a.log.WithFields(logging.Fields{
		"user_id": userID, "queue_item_id": queueItemID, "outcome": outcome, "delta": delta, "score": p.Score,
	}).Info("Applied resolution to trust profile")
	return p, nil
}

// Recompute rebuilds a user's score, level and badges from stored history.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (models.UserTrustProfile, error) {
	var p models.UserTrustProfile
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			existed bool
			err     error
		)
		if p, existed, err = a.loadOrInit(tx, userID); err != nil {
			return err
		}
		if !existed {
			return errs.NotFound("trust.recompute", "no history for user %s", userID)
		}
		return a.recomputeTx(tx, &p, false)
	})
	return p, err
}

// RecomputeStale recomputes every profile that has observations newer than
// its last recompute. It returns how many profiles were refreshed.
func (a *Aggregator) RecomputeStale(ctx context.Context) (int, error) {
	var ids []string
	err := a.db.WithContext(ctx).Model(&models.UserTrustProfile{}).
		Where("recomputed_at IS NULL OR recomputed_at < (SELECT MAX(o.observed_at) FROM trust_observations o WHERE o.user_id = user_trust_profiles.user_id)").
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find stale profiles: %w", err)
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := a.Recompute(ctx, id); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			a.log.WithError(err).WithField("user_id", id).Warn("Trust recompute failed")
			continue
		}
		done++
	}
	return done, nil
}

func (a *Aggregator) loadOrInit(tx *gorm.DB, userID string) (models.UserTrustProfile, bool, error) {
	var p models.UserTrustProfile
	err := tx.First(&p, "user_id = ?", userID).Error
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return p, false, fmt.Errorf("load trust profile: %w", err)
	}
	p = models.UserTrustProfile{
		UserID: userID,
		Score:  a.cfg.BaseScore,
		Level:  models.LevelFor(a.cfg.BaseScore),
		Badges: []string{},
	}
	return p, false, nil
}

// ensureProfile returns the user's profile, creating it at the base score
// when missing.
func (a *Aggregator) ensureProfile(tx *gorm.DB, userID string) (models.UserTrustProfile, error) {
	p, existed, err := a.loadOrInit(tx, userID)
	if err != nil || existed {
		return p, err
	}
	return a.createProfile(tx, p)
}

// createProfile inserts p unless a concurrent writer already created the row,
// and returns whichever row is stored.
func (a *Aggregator) createProfile(tx *gorm.DB, p models.UserTrustProfile) (models.UserTrustProfile, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return p, fmt.Errorf("create trust profile: %w", err)
	}
	var stored models.UserTrustProfile
	if err := tx.First(&stored, "user_id = ?", p.UserID).Error; err != nil {
		return p, fmt.Errorf("load trust profile: %w", err)
	}
	return stored, nil
}

func (a *Aggregator) approvalCredit(tx *gorm.DB, userID string) (int, error) {
	var sum int
	err := tx.Model(&models.TrustAdjustment{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("user_id = ? AND outcome = ?", userID, models.OutcomeApproved).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum approval credit: %w", err)
	}
	return sum, nil
}

// recomputeTx sets score, level and badges on p and saves it, bumping the
// version when anything visible changed. dirty means the caller already
// modified p.
func (a *Aggregator) recomputeTx(tx *gorm.DB, p *models.UserTrustProfile, dirty bool) error {
	var obs []models.TrustObservation
	if err := tx.Where("user_id = ?", p.UserID).
		Order("observed_at DESC").Order("post_id DESC").
		Limit(a.cfg.HistoryWindow).
		Find(&obs).Error; err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	scores := make([]int, len(obs))
	for i, o := range obs {
		scores[i] = o.Score
	}

	var adjustments int
	if err := tx.Model(&models.TrustAdjustment{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("user_id = ?", p.UserID).
		Scan(&adjustments).Error; err != nil {
		return fmt.Errorf("sum adjustments: %w", err)
	}

	before := *p
	p.Score = clampScore(int(math.Round(DecayedAverage(scores, a.cfg.Decay, a.cfg.BaseScore))) + adjustments)
	if len(obs) > p.TotalPosts {
		p.TotalPosts = len(obs)
	}
	now := a.now()
	p.RecomputedAt = &now
	return a.saveProfile(tx, p, before, dirty)
}

// saveProfile derives level and badges from p, records badge changes and
// saves it, bumping the version when anything visible changed.
func (a *Aggregator) saveProfile(tx *gorm.DB, p *models.UserTrustProfile, before models.UserTrustProfile, dirty bool) error {
	p.Level = models.LevelFor(p.Score)
	p.Badges = Badges(*p)
	if err := a.syncBadgeHistory(tx, p.UserID, before.Badges, p.Badges); err != nil {
		return err
	}
	if dirty || p.Version == 0 || changed(before, *p) {
		p.Version++
	}
	if err := tx.Save(p).Error; err != nil {
		return fmt.Errorf("save trust profile: %w", err)
	}
	return nil
}

func (a *Aggregator) syncBadgeHistory(tx *gorm.DB, userID string, before, after []string) error {
	now := a.now()
	for _, b := range diff(after, before) {
		if err := tx.Create(&models.BadgeAward{UserID: userID, Badge: b, AwardedAt: now}).Error; err != nil {
			return fmt.Errorf("award badge: %w", err)
		}
	}
	for _, b := range diff(before, after) {
		if err := tx.Model(&models.BadgeAward{}).
			Where("user_id = ? AND badge = ? AND revoked_at IS NULL", userID, b).
			Update("revoked_at", now).Error; err != nil {
			return fmt.Errorf("revoke badge: %w", err)
		}
	}
	return nil
}

// BadgeHistory lists every award of a user, oldest first.
func (a *Aggregator) BadgeHistory(ctx context.Context, userID string) ([]models.BadgeAward, error) {
	var out []models.BadgeAward
	err := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("awarded_at").Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load badge history: %w", err)
	}
	return out, nil
}

// DecayedAverage weights scores newest first: 1, decay, decay², ... An empty
// history averages to base.
func DecayedAverage(newestFirst []int, decay float64, base int) float64 {
	if len(newestFirst) == 0 {
		return float64(base)
	}
	var sum, weights float64
	w := 1.0
	for _, s := range newestFirst {
		sum += w * float64(s)
		weights += w
		w *= decay
	}
	return sum / weights
}

// Badges derives the badge set of a profile.
func Badges(p models.UserTrustProfile) []string {
	out := []string{}
	if p.Score >= 85 && p.PostsApproved >= 5 {
		out = append(out, BadgeVerifiedInsight)
	}
	if p.Score >= 70 && p.TotalPosts >= 3 {
		out = append(out, BadgeAnalystGrade)
	}
	if p.Score < 40 {
		out = append(out, BadgeSpeculative)
	}
	if p.TotalPosts < 3 {
		out = append(out, BadgeNeedsReview)
	}
	if p.TotalPosts >= 10 && p.PostsRemoved == 0 {
		out = append(out, BadgeCleanRecord)
	}
	return out
}

func changed(a, b models.UserTrustProfile) bool {
	return a.Score != b.Score || a.Level != b.Level ||
		a.TotalPosts != b.TotalPosts || a.PostsRemoved != b.PostsRemoved ||
		a.PostsApproved != b.PostsApproved || !sameSet(a.Badges, b.Badges)
}

func diff(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := in[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
