// Package credibility blends author trust, content signals and community
// engagement into a 0-100 post credibility score.
package credibility

import (
	"math"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/signals"
)

const (
	neutral = 50

	DependencyIdentity = "identity_service"
	DependencyContent  = "content_store"
)

// Weights are the component weights and the per-signal adjustments.
type Weights struct {
	Author     float64
	Content    float64
	Engagement float64

	VerifiedBonus     int
	RemovalPenalty    int
	MaxRemovalPenalty int

	CitationBonus, MaxCitationBonus   int
	EvidenceBonus, MaxEvidenceBonus   int
	TechnicalBonus, MaxTechnicalBonus int
	ClaimBonus, MaxClaimBonus         int
	GuaranteePenalty                  int
	PromotionalPenalty                int
	ScamPenalty                       int

	MinReactionSample int
	FullWeightSample  int
	FreshPostAge      time.Duration
}

func DefaultWeights() Weights {
	return Weights{
		Author:     0.40,
		Content:    0.35,
		Engagement: 0.25,

		VerifiedBonus:     10,
		RemovalPenalty:    8,
		MaxRemovalPenalty: 30,

		CitationBonus:      10,
		MaxCitationBonus:   20,
		EvidenceBonus:      8,
		MaxEvidenceBonus:   16,
		TechnicalBonus:     4,
		MaxTechnicalBonus:  8,
		ClaimBonus:         3,
		MaxClaimBonus:      9,
		GuaranteePenalty:   10,
		PromotionalPenalty: 6,
		ScamPenalty:        10,

		MinReactionSample: 5,
		FullWeightSample:  20,
		FreshPostAge:      time.Hour,
	}
}

// AuthorContext is the author side of a score. ProfileUnavailable marks the
// identity service as down; only the local trust profile is used then.
type AuthorContext struct {
	Verified           bool
	AccountAge         time.Duration
	HistoricalPosts    int
	TrustScore         int
	HasTrustProfile    bool
	RecentRemovals     int
	ProfileUnavailable bool
}

// Engagement carries reaction counts. Unavailable marks the content store as down.
type Engagement struct {
	Reactions   models.Reactions
	Unavailable bool
}

type Scorer struct {
	w Weights
}

func New(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score computes the credibility of a post. The result carries no author trust
// version; the caller stamps it.
func (s *Scorer) Score(post models.Post, f signals.Features, riskScore int, author AuthorContext, eng Engagement, now time.Time) models.PostCredibility {
	a := s.authorComponent(author)
	c := s.contentComponent(f, riskScore)
	e := s.engagementComponent(post, eng, now)

	total := s.w.Author*float64(a) + s.w.Content*float64(c) + s.w.Engagement*float64(e)
	score := clamp(int(math.Round(total)), 0, 100)

	var degraded []string
	if author.ProfileUnavailable {
		degraded = append(degraded, DependencyIdentity)
	}
	if eng.Unavailable {
		degraded = append(degraded, DependencyContent)
	}

	return models.PostCredibility{
		PostID:              post.ID,
		AuthorID:            post.AuthorID,
		Score:               score,
		Level:               models.LevelFor(score),
		Confidence:          s.confidence(author, eng, len(degraded)),
		Breakdown:           models.CredibilityBreakdown{Author: a, Content: c, Engagement: e},
		ContentType:         f.ContentType,
		FactualClaims:       nonNil(f.NumericClaims),
		VerificationSources: nonNil(f.VerificationSources),
		Degraded:            degraded,
		ContentHash:         signals.Fingerprint(post),
		ReactionCount:       eng.Reactions.Total(),
		CalculatedAt:        now,
	}
}

func (s *Scorer) authorComponent(a AuthorContext) int {
	v := neutral
	if a.HasTrustProfile {
		v = a.TrustScore
	}
	if a.Verified {
		v += s.w.VerifiedBonus
	}
	v -= min(a.RecentRemovals*s.w.RemovalPenalty, s.w.MaxRemovalPenalty)
	return clamp(v, 0, 100)
}

func (s *Scorer) contentComponent(f signals.Features, riskScore int) int {
	v := 100 - riskScore
	v += min(f.Citations*s.w.CitationBonus, s.w.MaxCitationBonus)
	v += min(f.DataEvidenceTerms*s.w.EvidenceBonus, s.w.MaxEvidenceBonus)
	v += min(f.TechnicalTerms*s.w.TechnicalBonus, s.w.MaxTechnicalBonus)
	v += min(len(f.NumericClaims)*s.w.ClaimBonus, s.w.MaxClaimBonus)
	v -= f.GuaranteePhrases * s.w.GuaranteePenalty
	v -= f.PromotionalPhrases * s.w.PromotionalPenalty
	v -= f.ScamPhrases * s.w.ScamPenalty
	return clamp(v, 0, 100)
}

func (s *Scorer) engagementComponent(post models.Post, eng Engagement, now time.Time) int {
	total := eng.Reactions.Total()
	if eng.Unavailable || total < s.w.MinReactionSample {
		return neutral
	}
	ratio := 100 * float64(eng.Reactions.Positive) / float64(total)
	weight := math.Min(1, float64(total)/float64(s.w.FullWeightSample))
	v := int(math.Round(neutral + (ratio-neutral)*weight))
	if v < neutral && !post.CreatedAt.IsZero() && now.Sub(post.CreatedAt) < s.w.FreshPostAge {
		v = neutral
	}
	return clamp(v, 0, 100)
}

func (s *Scorer) confidence(a AuthorContext, eng Engagement, unavailable int) float64 {
	reactions := 0
	if !eng.Unavailable {
		reactions = eng.Reactions.Total()
	}
	history := a.HistoricalPosts
	if a.ProfileUnavailable {
		history = 0
	}
	c := 0.3 +
		math.Min(0.35, 0.35*float64(reactions)/40) +
		math.Min(0.35, 0.35*float64(history)/100) -
		0.2*float64(unavailable)
	c = math.Max(0.05, math.Min(1, c))
	return math.Round(c*1000) / 1000
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
