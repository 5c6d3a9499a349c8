package models

import "strings"

// TrustLevel buckets a 0-100 score. Shared by posts and users.
type TrustLevel string

const (
	LevelTrusted TrustLevel = "trusted"
	LevelMixed   TrustLevel = "mixed"
	LevelLow     TrustLevel = "low"
)

// LevelFor maps a score onto trusted (>=70), mixed (40-69) or low (<40).
func LevelFor(score int) TrustLevel {
	switch {
	case score >= 70:
		return LevelTrusted
	case score >= 40:
		return LevelMixed
	default:
		return LevelLow
	}
}

type ContentType string

const (
	ContentDataBacked  ContentType = "data_backed"
	ContentSpeculative ContentType = "speculative"
	ContentOpinion     ContentType = "opinion"
	ContentPromotional ContentType = "promotional"
)

type RiskLevel string

const (
	RiskUnset  RiskLevel = ""
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelFor maps a 0-100 risk score onto low/medium/high.
func RiskLevelFor(riskScore int) RiskLevel {
	switch {
	case riskScore >= 70:
		return RiskHigh
	case riskScore >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

type FlagReason string

const (
	ReasonSpam           FlagReason = "spam"
	ReasonMisinformation FlagReason = "misinformation"
	ReasonHarassment     FlagReason = "harassment"
	ReasonOther          FlagReason = "other"
)

// ParseFlagReason accepts only the closed set of reasons.
func ParseFlagReason(s string) (FlagReason, bool) {
	switch r := FlagReason(strings.ToLower(strings.TrimSpace(s))); r {
	case ReasonSpam, ReasonMisinformation, ReasonHarassment, ReasonOther:
		return r, true
	}
	return "", false
}

type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagReviewed  FlagStatus = "reviewed"
	FlagDismissed FlagStatus = "dismissed"
	FlagActioned  FlagStatus = "actioned"
)

// Active reports whether the flag still counts against its post.
func (s FlagStatus) Active() bool {
	return s == FlagPending || s == FlagReviewed
}

type QueueSource string

const (
	SourceFlag     QueueSource = "flag"
	SourceDetector QueueSource = "detector"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for sorting; higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueInReview QueueStatus = "in_review"
	QueueResolved QueueStatus = "resolved"
)

func ParseQueueStatus(s string) (QueueStatus, bool) {
	switch st := QueueStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case QueuePending, QueueInReview, QueueResolved:
		return st, true
	}
	return "", false
}

// Outcome is the terminal decision on a queue item.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRemoved  Outcome = "removed"
)

func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeApproved, OutcomeRemoved:
		return o, true
	}
	return "", false
}
