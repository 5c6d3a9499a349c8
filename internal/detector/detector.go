// Package detector scores post features against named spam/risk rules.
package detector

import (
	"math"
	"time"

	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/signals"
)

type Tier int

const (
	TierModerate Tier = iota
	TierHigh
)

// Rule names double as risk flags.
const (
	RuleContactSolicitation  = "contact_solicitation"
	RuleUnverifiedGuarantee  = "unverified_guarantee"
	RuleScamLanguage         = "scam_language"
	RuleSuspiciousLinks      = "suspicious_links"
	RulePromotionalLanguage  = "promotional_language"
	RuleExcessivePunctuation = "excessive_punctuation"
	RuleExcessiveCaps        = "excessive_caps"
	RuleExcessiveEmojis      = "excessive_emojis"
	RuleRepetitiveContent    = "repetitive_content"
	RuleCashtagStuffing      = "cashtag_stuffing"

	FlagHighRiskContent = "high_risk_content"
)

// Rule is one named heuristic.
type Rule struct {
	Name   string
	Tier   Tier
	Weight int
	Fires  func(f signals.Features, cfg Config) bool
}

// Config holds the tunable thresholds.
type Config struct {
	SpamScoreThreshold   int
	SpamConfidenceGate   float64
	AutoHideConfidence   float64
	HighRiskFlagAbove    int
	VerifiedReduction    int
	EstablishedReduction int
	MaxReduction         int
	EstablishedAge       time.Duration
	EstablishedPosts     int

	CapsRatio           float64
	MaxEmojis           int
	EmojiDensity        float64
	MinRepetitionTokens int
	UniqueTokenRatio    float64
	MaxCashtags         int
}

func DefaultConfig() Config {
	return Config{
		SpamScoreThreshold:   70,
		SpamConfidenceGate:   0.5,
		AutoHideConfidence:   0.8,
		HighRiskFlagAbove:    80,
		VerifiedReduction:    15,
		EstablishedReduction: 10,
		MaxReduction:         25,
		EstablishedAge:       90 * 24 * time.Hour,
		EstablishedPosts:     50,

		CapsRatio:           0.5,
		MaxEmojis:           5,
		EmojiDensity:        0.1,
		MinRepetitionTokens: 8,
		UniqueTokenRatio:    0.6,
		MaxCashtags:         5,
	}
}

// Rules is the fixed rule table, in evaluation order.
var Rules = []Rule{
	{RuleContactSolicitation, TierHigh, 40, func(f signals.Features, _ Config) bool {
		return f.ContactSolicitation
	}},
	{RuleUnverifiedGuarantee, TierHigh, 40, func(f signals.Features, _ Config) bool {
		return f.GuaranteePhrases > 0
	}},
	{RuleScamLanguage, TierHigh, 30, func(f signals.Features, _ Config) bool {
		return f.ScamPhrases > 0
	}},
	{RuleSuspiciousLinks, TierHigh, 25, func(f signals.Features, _ Config) bool {
		return f.SuspiciousLinks > 0
	}},
	{RulePromotionalLanguage, TierModerate, 15, func(f signals.Features, _ Config) bool {
		return f.PromotionalPhrases > 0
	}},
	{RuleExcessivePunctuation, TierModerate, 15, func(f signals.Features, _ Config) bool {
		return f.LongestExclamationRun >= 3 ||
			(f.Exclamations >= 3 && f.ExclamationDensity >= 0.1) ||
			f.QuestionDensity >= 0.3
	}},
	{RuleExcessiveCaps, TierModerate, 15, func(f signals.Features, cfg Config) bool {
		return f.CapsRatio >= cfg.CapsRatio
	}},
	{RuleExcessiveEmojis, TierModerate, 10, func(f signals.Features, cfg Config) bool {
		return f.Emojis > cfg.MaxEmojis || f.EmojiDensity > cfg.EmojiDensity
	}},
	{RuleRepetitiveContent, TierModerate, 15, func(f signals.Features, cfg Config) bool {
		return f.Tokens >= cfg.MinRepetitionTokens && f.UniqueTokenRatio < cfg.UniqueTokenRatio
	}},
	{RuleCashtagStuffing, TierModerate, 10, func(f signals.Features, cfg Config) bool {
		return f.Cashtags > cfg.MaxCashtags
	}},
}

// AuthorContext is what the detector may know about the author. A nil context
// means unknown: no reduction and no penalty.
type AuthorContext struct {
	Verified        bool
	AccountAge      time.Duration
	HistoricalPosts int
}

// Result is the spam verdict of one post.
type Result struct {
	IsSpam     bool             `json:"isSpam"`
	Confidence float64          `json:"confidence"`
	RiskScore  int              `json:"riskScore"`
	RiskLevel  models.RiskLevel `json:"riskLevel"`
	RiskFlags  []string         `json:"riskFlags"`
	AutoHide   bool             `json:"autoHide"`
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect evaluates every rule. It is a pure function of its inputs.
func (d *Detector) Detect(f signals.Features, author *AuthorContext) Result {
	flags := make([]string, 0, 4)
	sum, high, moderate := 0, 0, 0
	for _, r := range Rules {
		if !r.Fires(f, d.cfg) {
			continue
		}
		flags = append(flags, r.Name)
		sum += r.Weight
		if r.Tier == TierHigh {
			high++
		} else {
			moderate++
		}
	}

	score := clamp(sum-d.reduction(author), 0, 100)
	conf := confidence(high, moderate)
	if score > d.cfg.HighRiskFlagAbove {
		flags = append(flags, FlagHighRiskContent)
	}

	isSpam := score >= d.cfg.SpamScoreThreshold && conf >= d.cfg.SpamConfidenceGate
	return Result{
		IsSpam:     isSpam,
		Confidence: conf,
		RiskScore:  score,
		RiskLevel:  models.RiskLevelFor(score),
		RiskFlags:  flags,
		AutoHide:   isSpam && conf > d.cfg.AutoHideConfidence,
	}
}

// Detect runs the default detector.
func Detect(f signals.Features, author *AuthorContext) Result {
	return New(DefaultConfig()).Detect(f, author)
}

func (d *Detector) reduction(a *AuthorContext) int {
	if a == nil {
		return 0
	}
	r := 0
	if a.Verified {
		r += d.cfg.VerifiedReduction
	}
	if a.AccountAge >= d.cfg.EstablishedAge && a.HistoricalPosts >= d.cfg.EstablishedPosts {
		r += d.cfg.EstablishedReduction
	}
	if r > d.cfg.MaxReduction {
		r = d.cfg.MaxReduction
	}
	return r
}

func confidence(high, moderate int) float64 {
	m := float64(moderate)
	var c float64
	switch {
	case high == 0 && moderate == 0:
		return 0
	case high == 0:
		c = math.Min(0.4, 0.15*m)
	case high == 1:
		c = math.Min(0.6, 0.5+0.05*m)
	default:
		c = math.Min(0.95, 0.8+0.05*float64(high-2)+0.025*m)
	}
	return math.Round(c*1000) / 1000
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
