// Package signals turns raw post content into the normalized feature bundle
// consumed by the spam detector and the credibility scorer.
package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/sujalbistaa/trustdesk/internal/models"
)

const (
	maxFactualClaims       = 5
	maxVerificationSources = 3
	minLettersForCaps      = 10
)

// Features is the signal bundle of one post.
type Features struct {
	Empty bool `json:"empty"`

	Tokens    int `json:"tokens"`
	Sentences int `json:"sentences"`
	Runes     int `json:"runes"`

	Exclamations          int     `json:"exclamations"`
	Questions             int     `json:"questions"`
	LongestExclamationRun int     `json:"longestExclamationRun"`
	ExclamationDensity    float64 `json:"exclamationDensity"`
	QuestionDensity       float64 `json:"questionDensity"`

	Emojis       int     `json:"emojis"`
	EmojiDensity float64 `json:"emojiDensity"`
	Letters      int     `json:"letters"`
	CapsRatio    float64 `json:"capsRatio"`

	Cashtags int `json:"cashtags"`
	Mentions int `json:"mentions"`
	Hashtags int `json:"hashtags"`

	PositiveWords int `json:"positiveWords"`
	NegativeWords int `json:"negativeWords"`

	Links               int  `json:"links"`
	SuspiciousLinks     int  `json:"suspiciousLinks"`
	ContactSolicitation bool `json:"contactSolicitation"`

	GuaranteePhrases   int `json:"guaranteePhrases"`
	PromotionalPhrases int `json:"promotionalPhrases"`
	ScamPhrases        int `json:"scamPhrases"`

	Citations           int      `json:"citations"`
	VerificationSources []string `json:"verificationSources"`
	DataEvidenceTerms   int      `json:"dataEvidenceTerms"`
	TechnicalTerms      int      `json:"technicalTerms"`
	NumericClaims       []string `json:"numericClaims"`

	UniqueTokenRatio float64            `json:"uniqueTokenRatio"`
	ContentType      models.ContentType `json:"contentType"`
}

// Extract computes the feature bundle of a post. Empty content yields a
// zero-signal bundle, never an error.
func Extract(post models.Post) Features {
	text := strings.TrimSpace(post.Content)
	if text == "" {
		return Features{
			Empty:            true,
			UniqueTokenRatio: 1,
			ContentType:      models.ContentOpinion,
			Cashtags:         len(normalizedSet(post.Cashtags, "$")),
			Mentions:         len(normalizedSet(post.Mentions, "@")),
			Hashtags:         len(normalizedSet(post.Hashtags, "#")),
		}
	}

	f := Features{}
	tokens := strings.Fields(text)
	f.Tokens = len(tokens)
	f.Sentences = countSentences(text)

	scanRunes(text, &f)
	if f.Tokens > 0 {
		f.ExclamationDensity = float64(f.Exclamations) / float64(f.Tokens)
		f.QuestionDensity = float64(f.Questions) / float64(f.Tokens)
	}

	f.Cashtags = len(union(post.Cashtags, cashtagPattern.FindAllString(text, -1), "$"))
	f.Mentions = len(union(post.Mentions, mentionPattern.FindAllString(text, -1), "@"))
	f.Hashtags = len(union(post.Hashtags, hashtagPattern.FindAllString(text, -1), "#"))

	f.PositiveWords, f.NegativeWords, f.UniqueTokenRatio = scanTokens(tokens)

	links := linkPattern.FindAllString(text, -1)
	f.Links = len(links)
	invite := false
	for _, link := range links {
		l := strings.ToLower(link)
		if containsAny(l, suspiciousHosts) {
			f.SuspiciousLinks++
		}
		if containsAny(l, inviteHosts) {
			invite = true
		}
		if containsAny(l, trustedSources) {
			f.Citations++
			if len(f.VerificationSources) < maxVerificationSources {
				f.VerificationSources = append(f.VerificationSources, link)
			}
		}
	}
	f.Citations += countMatching(attributionPatterns, text)
	f.ContactSolicitation = invite || countMatching(contactPatterns, text) > 0 || hasPhoneNumber(text)

	f.GuaranteePhrases = countMatching(guaranteePatterns, text)
	f.PromotionalPhrases = countMatching(promotionalPatterns, text)
	f.ScamPhrases = countMatching(scamPatterns, text)
	f.DataEvidenceTerms = countMatching(dataEvidencePatterns, text)
	f.TechnicalTerms = countMatching(technicalPatterns, text)

	claims := append(pricePattern.FindAllString(text, -1), percentPattern.FindAllString(text, -1)...)
	if len(claims) > maxFactualClaims {
		claims = claims[:maxFactualClaims]
	}
	f.NumericClaims = claims

	f.ContentType = classify(&f, text)
	return f
}

// Fingerprint hashes everything Extract looks at, so a changed post is
// detected without storing its content.
func Fingerprint(post models.Post) string {
	h := sha256.New()
	h.Write([]byte(post.Content))
	for _, group := range [][]string{post.Cashtags, post.Mentions, post.Hashtags} {
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(normalizedSet(group, ""), ",")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func scanRunes(text string, f *Features) {
	run := 0
	upper := 0
	nonSpace := 0
	for _, r := range text {
		f.Runes++
		if !unicode.IsSpace(r) {
			nonSpace++
		}
		switch {
		case r == '!':
			f.Exclamations++
			run++
			if run > f.LongestExclamationRun {
				f.LongestExclamationRun = run
			}
			continue
		case r == '?':
			f.Questions++
		case isEmoji(r):
			f.Emojis++
		case unicode.IsLetter(r):
			f.Letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
		run = 0
	}
	if nonSpace > 0 {
		f.EmojiDensity = float64(f.Emojis) / float64(nonSpace)
	}
	if f.Letters >= minLettersForCaps {
		f.CapsRatio = float64(upper) / float64(f.Letters)
	}
}

func scanTokens(tokens []string) (positive, negative int, uniqueRatio float64) {
	if len(tokens) == 0 {
		return 0, 0, 1
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		word := strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if word == "" {
			word = tok
		}
		seen[word] = struct{}{}
		if _, ok := positiveWords[word]; ok {
			positive++
		}
		if _, ok := negativeWords[word]; ok {
			negative++
		}
	}
	return positive, negative, float64(len(seen)) / float64(len(tokens))
}

func countSentences(text string) int {
	n := len(sentencePattern.FindAllStringIndex(text, -1))
	// Trailing text without a terminator is still a sentence.
	if last := text[len(text)-1]; last != '.' && last != '!' && last != '?' {
		n++
	}
	return n
}

// hasPhoneNumber looks for phone-shaped digit groups that are not part of a
// longer number or a decimal.
func hasPhoneNumber(text string) bool {
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		if partOfNumber(text, loc[0], loc[1]) {
			continue
		}
		digits := 0
		for _, r := range text[loc[0]:loc[1]] {
			if unicode.IsDigit(r) {
				digits++
			}
		}
		if digits >= 10 && digits <= 15 {
			return true
		}
	}
	return false
}

func partOfNumber(text string, start, end int) bool {
	isDigit := func(i int) bool { return i >= 0 && i < len(text) && text[i] >= '0' && text[i] <= '9' }
	if isDigit(start-1) || (start >= 2 && (text[start-1] == '.' || text[start-1] == ',') && isDigit(start-2)) {
		return true
	}
	return isDigit(end) || (end+1 < len(text) && (text[end] == '.' || text[end] == ',') && isDigit(end+1))
}

func classify(f *Features, text string) models.ContentType {
	switch {
	case len(f.VerificationSources) > 0 && f.DataEvidenceTerms > 0:
		return models.ContentDataBacked
	case f.GuaranteePhrases+f.PromotionalPhrases > 0:
		return models.ContentPromotional
	case countMatching(speculativePatterns, text) > 0:
		return models.ContentSpeculative
	default:
		return models.ContentOpinion
	}
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func union(declared, found []string, prefix string) []string {
	return normalizedSet(append(append([]string{}, declared...), found...), prefix)
}

// normalizedSet upper-cases, strips the prefix and dedups, returning a sorted slice.
func normalizedSet(values []string, prefix string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(v), prefix))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
