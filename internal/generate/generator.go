// Package generate defines the reply-generation capability and its HTTP
// client. The dispatcher talks to a Generator; the concrete client calls an
// OpenAI-compatible chat completions endpoint with its own retry policy.
package generate

import (
	"context"
	"errors"
)

// Request is a structured generation request.
type Request struct {
	// Text is the item body to respond to.
	Text string

	// Style hints the tone: humorous | analytical | supportive |
	// educational | neutral.
	Style string

	// Audience hints who reads the source: crypto | mainstream | technical.
	Audience string
}

// Reply is the generator's answer with its quality estimate.
type Reply struct {
	Text string

	// Confidence in [0,1]. The dispatcher gates on this.
	Confidence float64
}

// ErrEmptyReply indicates the service returned no usable text.
var ErrEmptyReply = errors.New("generate: empty reply")

// Generator produces a reply for a content item. Implementations own their
// retry policy; callers never retry a failed generation.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}
