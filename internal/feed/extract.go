package feed

import (
	stdhtml "html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var stripTags = bluemonday.StrictPolicy()

// ExtractText pulls the body text of one article out of its HTML. The
// primary path reads the dedicated text container; when the markup changes
// underneath us it falls back to a line heuristic over the flattened text.
func ExtractText(articleHTML string) string {
	if text := tweetTextOf(articleHTML); text != "" {
		return text
	}
	return heuristicText(FlattenHTML(articleHTML))
}

// FlattenHTML strips all markup and returns plain text with entities
// decoded, one line per block-ish run.
func FlattenHTML(s string) string {
	return strings.TrimSpace(stdhtml.UnescapeString(stripTags.Sanitize(s)))
}

// tweetTextOf collects the text under nodes marked data-testid="tweetText".
func tweetTextOf(articleHTML string) string {
	root, err := html.Parse(strings.NewReader(articleHTML))
	if err != nil {
		return ""
	}

	var parts []string
	var walk func(n *html.Node, inText bool)
	walk = func(n *html.Node, inText bool) {
		if n.Type == html.ElementNode && !inText {
			for _, a := range n.Attr {
				if a.Key == "data-testid" && a.Val == "tweetText" {
					inText = true
					break
				}
			}
		}
		if inText && n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}
		// Emoji inside the text container render as <img alt="…">.
		if inText && n.Type == html.ElementNode && n.Data == "img" {
			for _, a := range n.Attr {
				if a.Key == "alt" && a.Val != "" {
					parts = append(parts, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inText)
		}
	}
	walk(root, false)

	return strings.TrimSpace(strings.Join(parts, ""))
}

// heuristicText guesses the body from flattened article text: skip handles,
// timestamps, and action labels, keep the first couple of substantive lines.
func heuristicText(full string) string {
	var kept []string
	for _, line := range strings.Split(full, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 10 || strings.HasPrefix(line, "@") {
			continue
		}
		if strings.HasSuffix(line, "h") || strings.HasSuffix(line, "m") || strings.HasSuffix(line, "s") {
			continue
		}
		switch line {
		case "Reply", "Repost", "Retweet", "Like", "Share", "Bookmark":
			continue
		}
		kept = append(kept, line)
		if len(kept) == 2 {
			break
		}
	}
	return strings.Join(kept, " ")
}
