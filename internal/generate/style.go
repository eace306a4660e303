package generate

import "strings"

// styleKeywords maps tone classes to trigger words, checked in order.
var styleKeywords = []struct {
	style string
	words []string
}{
	{"humorous", []string{"moon", "🚀", "pump", "bull", "rally", "ath", "hodl"}},
	{"analytical", []string{"crash", "bear", "down", "dead", "dump", "recession"}},
	{"supportive", []string{"building", "future", "progress", "development", "innovation"}},
	{"educational", []string{"scaling", "technology", "blockchain", "consensus", "protocol"}},
	{"analytical", []string{"regulation", "sec", "government", "policy", "legal"}},
	{"educational", []string{"defi", "nft", "web3", "metaverse", "dao"}},
}

// ClassifyStyle picks a tone hint for the given item text.
func ClassifyStyle(text string) string {
	lower := strings.ToLower(text)
	for _, sk := range styleKeywords {
		for _, w := range sk.words {
			if strings.Contains(lower, w) {
				return sk.style
			}
		}
	}
	return "neutral"
}

// audienceContext maps audience hints to system-prompt additions.
var audienceContext = map[string]string{
	"crypto":     "You're talking to crypto-native people who understand the space.",
	"mainstream": "You're talking to people who might be new to crypto.",
	"technical":  "You're talking to developers and technical builders.",
}
