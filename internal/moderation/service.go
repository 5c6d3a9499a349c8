// Package moderation implements flag intake and the moderation queue.
package moderation

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/trust"
)

// Notifier receives queue events for the moderator feed.
type Notifier interface {
	Notify(event string, data interface{})
}

// AuthorLookup resolves a post's author when no queue item or verdict knows it.
type AuthorLookup func(ctx context.Context, postID string) (string, error)

type Config struct {
	ProactiveReviewThreshold int
	MaxDescriptionRunes      int
	DefaultListLimit         int
	MaxListLimit             int
	// ResponseWindow bounds the resolutions averaged into Stats.
	ResponseWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProactiveReviewThreshold: 50,
		MaxDescriptionRunes:      500,
		DefaultListLimit:         50,
		MaxListLimit:             200,
		ResponseWindow:           7 * 24 * time.Hour,
	}
}

type Service struct {
	db       *gorm.DB
	trust    *trust.Aggregator
	cfg      Config
	log      logging.Logger
	locks    *postLocks
	notifier Notifier
	authors  AuthorLookup
	now      func() time.Time
}

func NewService(db *gorm.DB, agg *trust.Aggregator, cfg Config, log logging.Logger) *Service {
	return &Service{
		db:       db,
		trust:    agg,
		cfg:      cfg,
		log:      log,
		locks:    newPostLocks(),
		notifier: nopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier wires the moderator feed. A nil notifier disables events.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetAuthorLookup wires the content store fallback used by the removal cascade.
func (s *Service) SetAuthorLookup(fn AuthorLookup) {
	s.authors = fn
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, interface{}) {}

// DerivePriority orders queue items: high on high AI risk or five reporters,
// medium on two reporters or an AI spam score of 50, low otherwise.
func DerivePriority(aiRisk models.RiskLevel, uniqueReporters int, aiSpamScore *int) models.Priority {
	switch {
	case aiRisk == models.RiskHigh || uniqueReporters >= 5:
		return models.PriorityHigh
	case uniqueReporters >= 2 || (aiSpamScore != nil && *aiSpamScore >= 50):
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func setPriority(item *models.QueueItem) {
	item.Priority = DerivePriority(item.AIRiskLevel, item.UniqueReporters, item.AISpamScore)
	item.PriorityRank = item.Priority.Rank()
}

func applyVerdict(item *models.QueueItem, v models.SpamVerdict) {
	score := v.RiskScore
	item.AISpamScore = &score
	item.AIRiskLevel = v.RiskLevel
	item.AITags = append([]string{}, v.RiskFlags...)
	if item.AuthorID == "" {
		item.AuthorID = v.AuthorID
	}
}
