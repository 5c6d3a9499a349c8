package models

import (
	"time"
)

// Post is supplied by the content collaborator. It is scored, never stored.
type Post struct {
	ID        string    `json:"id" binding:"required"`
	AuthorID  string    `json:"authorId" binding:"required"`
	Content   string    `json:"content"`
	Cashtags  []string  `json:"cashtags,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuthorProfile is what the identity service knows about an account.
type AuthorProfile struct {
	UserID           string    `json:"userId"`
	Verified         bool      `json:"verified"`
	AccountCreatedAt time.Time `json:"accountCreatedAt"`
	PostCount        int       `json:"postCount"`
}

// Reactions are community reaction counts at evaluation time.
type Reactions struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

func (r Reactions) Total() int { return r.Positive + r.Negative }

// CredibilityBreakdown holds the three weighted components of a post score.
type CredibilityBreakdown struct {
	Author     int `json:"author"`
	Content    int `json:"content"`
	Engagement int `json:"engagement"`
}

// PostCredibility is the derived trust score of one post. Rows are replaced
// wholesale on every recompute.
type PostCredibility struct {
	PostID              string               `gorm:"primaryKey;size:128" json:"postId"`
	AuthorID            string               `gorm:"size:128;index;not null" json:"authorId"`
	Score               int                  `gorm:"not null" json:"score"`
	Level               TrustLevel           `gorm:"size:16;not null" json:"level"`
	Confidence          float64              `gorm:"not null" json:"confidence"`
	Breakdown           CredibilityBreakdown `gorm:"embedded;embeddedPrefix:component_" json:"breakdown"`
	ContentType         ContentType          `gorm:"size:16" json:"contentType"`
	FactualClaims       []string             `gorm:"serializer:json" json:"factualClaims"`
	VerificationSources []string             `gorm:"serializer:json" json:"verificationSources"`
	Degraded            []string             `gorm:"serializer:json" json:"degraded,omitempty"`
	ContentHash         string               `gorm:"size:64" json:"-"`
	AuthorTrustVersion  int64                `json:"-"`
	ReactionCount       int                  `json:"-"`
	CalculatedAt        time.Time            `json:"calculatedAt"`
}

// SpamVerdict is the persisted SpamDetectionResult of one post.
type SpamVerdict struct {
	PostID      string    `gorm:"primaryKey;size:128" json:"postId"`
	AuthorID    string    `gorm:"size:128;index;not null" json:"authorId"`
	IsSpam      bool      `gorm:"not null" json:"isSpam"`
	Confidence  float64   `gorm:"not null" json:"confidence"`
	RiskScore   int       `gorm:"not null" json:"riskScore"`
	RiskLevel   RiskLevel `gorm:"size:16;not null" json:"riskLevel"`
	RiskFlags   []string  `gorm:"serializer:json" json:"riskFlags"`
	AutoHide    bool      `gorm:"not null" json:"autoHide"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Flag is one reporter's complaint about one post. ActiveKey is set while the
// flag is pending or reviewed; its unique index allows one active flag per
// (post, reporter).
type Flag struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	PostID          string     `gorm:"size:128;not null;index" json:"postId"`
	ReporterID      string     `gorm:"size:128;not null;index" json:"reporterId"`
	QueueItemID     string     `gorm:"size:36;not null;index" json:"queueItemId"`
	Reason          FlagReason `gorm:"size:32;not null" json:"reason"`
	Description     string     `gorm:"type:text" json:"description"`
	Status          FlagStatus `gorm:"size:16;not null;index" json:"status"`
	SubmissionCount int        `gorm:"not null;default:1" json:"submissionCount"`
	ActiveKey       *string    `gorm:"size:260;uniqueIndex" json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// QueueItem is a moderation queue entry for one post. OpenKey is set to the
// post id until the item is resolved, so a post has at most one open item.
type QueueItem struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	PostID          string          `gorm:"size:128;not null;index" json:"postId"`
	AuthorID        string          `gorm:"size:128;index" json:"authorId,omitempty"`
	Source          QueueSource     `gorm:"size:16;not null" json:"source"`
	TotalFlags      int             `gorm:"not null;default:0" json:"totalFlags"`
	UniqueReporters int             `gorm:"not null;default:0" json:"uniqueReporters"`
	AISpamScore     *int            `json:"aiSpamScore,omitempty"`
	AIRiskLevel     RiskLevel       `gorm:"size:16" json:"aiRiskLevel,omitempty"`
	AITags          []string        `gorm:"serializer:json" json:"aiTags,omitempty"`
	Priority        Priority        `gorm:"size:16;not null" json:"priority"`
	PriorityRank    int             `gorm:"not null;index:idx_queue_order,priority:2" json:"-"`
	Status          QueueStatus     `gorm:"size:16;not null;index:idx_queue_order,priority:1" json:"status"`
	Outcome         Outcome         `gorm:"size:16" json:"outcome,omitempty"`
	AssignedTo      string          `gorm:"size:128" json:"assignedTo,omitempty"`
	ResolvedBy      string          `gorm:"size:128" json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	FirstFlaggedAt  time.Time       `gorm:"not null;index:idx_queue_order,priority:3" json:"firstFlaggedAt"`
	LastFlaggedAt   time.Time       `gorm:"not null" json:"lastFlaggedAt"`
	OpenKey         *string         `gorm:"size:128;uniqueIndex" json:"-"`
	Flags           []Flag          `gorm:"foreignKey:QueueItemID" json:"flags,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Open reports whether the item can still be claimed or resolved.
func (q *QueueItem) Open() bool {
	return q.Status == QueuePending || q.Status == QueueInReview
}

// UserTrustProfile is the rolling trust profile of one user. Version changes
// whenever the score, counters or badges change and is part of the
// credibility fingerprint.
type UserTrustProfile struct {
	UserID        string     `gorm:"primaryKey;size:128" json:"userId"`
	Score         int        `gorm:"not null" json:"score"`
	Level         TrustLevel `gorm:"size:16;not null" json:"level"`
	TotalPosts    int        `gorm:"not null;default:0" json:"totalPosts"`
	PostsRemoved  int        `gorm:"not null;default:0" json:"postsRemoved"`
	PostsApproved int        `gorm:"not null;default:0" json:"postsApproved"`
	Badges        []string   `gorm:"serializer:json" json:"badges"`
	Version       int64      `gorm:"not null;default:0" json:"version"`
	RecomputedAt  *time.Time `gorm:"index" json:"recomputedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TrustObservation is the latest credibility score of one of a user's posts.
type TrustObservation struct {
	UserID     string    `gorm:"primaryKey;size:128" json:"userId"`
	PostID     string    `gorm:"primaryKey;size:128" json:"postId"`
	Score      int       `gorm:"not null" json:"score"`
	ObservedAt time.Time `gorm:"index" json:"observedAt"`
}

// TrustAdjustment records the signed trust change of one queue resolution.
type TrustAdjustment struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	UserID      string    `gorm:"size:128;not null;index" json:"userId"`
	QueueItemID string    `gorm:"size:36;not null;uniqueIndex" json:"queueItemId"`
	Outcome     Outcome   `gorm:"size:16;not null" json:"outcome"`
	Delta       int       `gorm:"not null" json:"delta"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BadgeAward is one entry in a user's badge history.
type BadgeAward struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	UserID    string     `gorm:"size:128;not null;index" json:"userId"`
	Badge     string     `gorm:"size:32;not null" json:"badge"`
	AwardedAt time.Time  `json:"awardedAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// ModerationAction is the audit trail of moderator decisions.
type ModerationAction struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	QueueItemID string    `gorm:"size:36;not null;index" json:"queueItemId"`
	PostID      string    `gorm:"size:128;not null;index" json:"postId"`
	ModeratorID string    `gorm:"size:128;not null;index" json:"moderatorId"`
	Action      string    `gorm:"size:16;not null" json:"action"`
	CreatedAt   time.Time `json:"createdAt"`
}

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&PostCredibility{},
		&SpamVerdict{},
		&QueueItem{},
		&Flag{},
		&UserTrustProfile{},
		&TrustObservation{},
		&TrustAdjustment{},
		&BadgeAward{},
		&ModerationAction{},
	}
}
