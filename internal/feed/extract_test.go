package feed

import (
	"strings"
	"testing"
)

func TestExtractTextPrimaryPath(t *testing.T) {
	// WHAT: Body text comes from the dedicated text container, emoji included.
	// WHY: This is the text that gets fingerprinted and replied to.
	article := `<article>
		<div><span>Some Account</span><span>@handle</span><span>2h</span></div>
		<div data-testid="tweetText"><span>Shipping the new release </span><img alt="🚀" src="e.png"><span> tonight</span></div>
		<div><span>Reply</span><span>Like</span></div>
	</article>`

	got := ExtractText(article)
	want := "Shipping the new release 🚀 tonight"
	if got != want {
		t.Errorf("ExtractText: got %q, want %q", got, want)
	}
}

func TestExtractTextFallbackHeuristic(t *testing.T) {
	// WHAT: Without the text container, substantive lines are kept and
	// handles, timestamps, and action labels dropped.
	// WHY: Markup drifts; scanning must degrade instead of going blind.
	article := "<article><div>Some Account\n@handle\n2h\n" +
		"This is the substantive body of the post we want\nReply\nLike</div></article>"

	got := ExtractText(article)
	if !strings.Contains(got, "substantive body") {
		t.Errorf("fallback missed body: %q", got)
	}
	if strings.Contains(got, "@handle") || strings.Contains(got, "Reply") {
		t.Errorf("fallback kept chrome: %q", got)
	}
}

func TestIsReplyOrPromoted(t *testing.T) {
	// WHAT: Replies to other users and paid placements are recognised.
	// WHY: Only original posts are candidates for engagement.
	cases := []struct {
		name string
		full string
		want bool
	}{
		{"reply thread", "Replying to @someone\ngood point about fees", true},
		{"promoted", "Big Brand\nPromoted\nbuy our thing", true},
		{"ad label line", "Brand\nAd\nspecial offer", true},
		{"original post", "Account\n2h\nthoughts on the new release", false},
	}
	for _, tc := range cases {
		if got := isReplyOrPromoted(tc.full); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
