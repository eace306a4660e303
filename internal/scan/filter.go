package scan

import "strings"

// FilterConfig is the topical and structural acceptance policy for
// discovered items.
type FilterConfig struct {
	// MinLen/MaxLen bound the text length in bytes. Defaults: 20 and 600.
	MinLen int
	MaxLen int

	// MinWords is the minimum word count. Default: 4.
	MinWords int

	// Reject lists substrings that disqualify an item outright. Checked
	// before Allow, so rejection wins when both match.
	Reject []string

	// Allow lists substrings at least one of which must appear. Empty
	// means everything topical is allowed.
	Allow []string
}

func (c *FilterConfig) defaults() {
	if c.MinLen <= 0 {
		c.MinLen = 20
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 600
	}
	if c.MinWords <= 0 {
		c.MinWords = 4
	}
}

// Filter applies the acceptance policy to item text.
type Filter struct {
	cfg FilterConfig
}

// NewFilter builds a Filter with defaults applied and keyword lists
// lowercased once.
func NewFilter(cfg FilterConfig) *Filter {
	cfg.defaults()
	cfg.Reject = lowerAll(cfg.Reject)
	cfg.Allow = lowerAll(cfg.Allow)
	return &Filter{cfg: cfg}
}

// Accept reports whether text passes the policy; on rejection the second
// return names the failed check for logging.
func (f *Filter) Accept(text string) (bool, string) {
	lower := strings.ToLower(text)

	for _, kw := range f.cfg.Reject {
		if strings.Contains(lower, kw) {
			return false, "rejected keyword: " + kw
		}
	}

	if len(f.cfg.Allow) > 0 {
		matched := false
		for _, kw := range f.cfg.Allow {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "no allowed keyword"
		}
	}

	if n := len(text); n < f.cfg.MinLen || n > f.cfg.MaxLen {
		return false, "length out of range"
	}
	if len(strings.Fields(text)) < f.cfg.MinWords {
		return false, "too few words"
	}
	return true, ""
}

func lowerAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
