package signals

import "regexp"

// The red-flag vocabulary is shared by the detector and the credibility scorer;
// each weighs matches independently.
var (
	guaranteePatterns = compile(
		`(?i)\bguarantee(d|s)?\b`,
		`(?i)\b100\s*%\s*(returns?|profits?|wins?|gains?|safe)\b`,
		`(?i)\brisk[\s-]?free\b`,
		`(?i)\b\d+(\.\d+)?\s*x\s+(returns?|gains?|profits?)\b`,
		`(?i)\bcan'?t\s+lose\b`,
		`(?i)\bno[\s-]risk\b`,
		`(?i)\bsure[\s-]?fire\b`,
	)

	promotionalPatterns = compile(
		`(?i)\bget\s+rich\s+quick\b`,
		`(?i)\beasy\s+money\b`,
		`(?i)\binstant\s+wealth\b`,
		`(?i)\bact\s+now\b`,
		`(?i)\blimited[\s-]time\b`,
		`(?i)\bexclusive\s+(deal|offer|access)\b`,
		`(?i)\bdon'?t\s+miss\s+out\b`,
		`(?i)\bto\s+the\s+moon\b`,
		`(?i)\bbuy\s+now\b`,
		`(?i)\bbinary\s+options?\b`,
	)

	scamPatterns = compile(
		`(?i)\bsend\s+(me\s+)?(btc|bitcoin|eth|ether|crypto|usdt)\b`,
		`(?i)\binvestment\s+opportunity\b`,
		`(?i)\bdouble\s+your\s+(money|investment|crypto|btc)\b`,
		`(?i)\bwallet\s+address\b`,
		`(?i)\bsignals?\s+(service|group)\b`,
		`(?i)\bvip\s+signals?\b`,
		`(?i)\bpump\s+(and|&|n)\s+dump\b`,
		`(?i)\binsider\s+(tip|info|trading)\b`,
		`(?i)\bforex\s+expert\b`,
		`(?i)\btrading\s+bot\b`,
	)

	contactPatterns = compile(
		`(?i)\b(dm|pm|inbox|message|text)\s+(me|us)\b`,
		`(?i)\bdm\s+for\b`,
		`(?i)\b(whatsapp|telegram|wechat)\b`,
		`(?i)\bjoin\s+(my|our)\s+(channel|group|discord|server)\b`,
		`(?i)\bprivate\s+group\b`,
	)

	dataEvidencePatterns = compile(
		`(?i)\bearnings\s+(report|call)\b`,
		`(?i)\bquarterly\s+results\b`,
		`(?i)\bbalance\s+sheet\b`,
		`(?i)\bcash\s+flow\b`,
		`(?i)\bp/e\s+ratio\b`,
		`(?i)\bmarket\s+cap\b`,
		`(?i)\brevenue\s+growth\b`,
		`(?i)\boptions\s+chain\b`,
		`(?i)\bvolume\s+analysis\b`,
		`(?i)\beps\b`,
	)

	technicalPatterns = compile(
		`(?i)\bsupport\b.*\bresistance\b`,
		`(?i)\bmoving\s+average\b`,
		`(?i)\bbollinger\s+bands?\b`,
		`(?i)\brsi\b`,
		`(?i)\bmacd\b`,
		`(?i)\bfibonacci\b`,
		`(?i)\bcandlestick\b`,
		`(?i)\bchart\s+pattern\b`,
	)

	attributionPatterns = compile(
		`(?i)\baccording\s+to\b`,
		`(?i)\bdata\s+shows\b`,
		`(?i)\bresearch\s+indicates\b`,
		`(?i)\breport\s+states\b`,
		`(?i)\bsource:`,
	)

	speculativePatterns = compile(
		`(?i)\bi\s+think\b`,
		`(?i)\bmight\b`,
		`(?i)\bcould\b`,
		`(?i)\bprobably\b`,
		`(?i)\bmaybe\b`,
		`(?i)\bpredict(ion)?\b`,
		`(?i)\bforecast\b`,
		`(?i)\bexpect\b`,
	)

	phonePattern    = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}|\+\d{1,3}(?:[\s.-]?\d{2,4}){2,5}`)
	linkPattern     = regexp.MustCompile(`(?i)https?://\S+|\b(?:[a-z0-9-]+\.)+[a-z]{2,}/\S*`)
	cashtagPattern  = regexp.MustCompile(`\$[A-Za-z]{1,6}\b`)
	mentionPattern  = regexp.MustCompile(`@\w+`)
	hashtagPattern  = regexp.MustCompile(`#\w+`)
	pricePattern    = regexp.MustCompile(`\$\d+(?:\.\d+)?`)
	percentPattern  = regexp.MustCompile(`\d+(?:\.\d+)?%`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
)

// Link shorteners and chat invites.
var suspiciousHosts = []string{
	"bit.ly", "tinyurl.com", "t.me", "discord.gg", "chat.whatsapp.com",
	"goo.gl", "cutt.ly", "is.gd", "rb.gy",
}

// Invite links also count as contact solicitation.
var inviteHosts = []string{"t.me", "discord.gg", "chat.whatsapp.com"}

var trustedSources = []string{
	"sec.gov", "investopedia.com", "bloomberg.com", "reuters.com", "wsj.com",
	"ft.com", "marketwatch.com", "finance.yahoo.com", "google.com/finance",
	"tradingview.com", "finviz.com", "morningstar.com", "seekingalpha.com",
}

var positiveWords = wordSet(
	"bullish", "gain", "gains", "growth", "strong", "beat", "beats", "upgrade",
	"upgraded", "profit", "profitable", "rally", "breakout", "outperform", "undervalued",
)

var negativeWords = wordSet(
	"bearish", "loss", "losses", "drop", "weak", "miss", "missed", "downgrade",
	"downgraded", "crash", "selloff", "dump", "underperform", "overvalued", "bankrupt",
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// countMatching returns how many distinct patterns match text.
func countMatching(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}
