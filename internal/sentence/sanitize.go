package sentence

import (
	"regexp"
	"strings"
)

// codeBlockPlaceholder is spoken in place of fenced code, which is never
// worth reading aloud character by character.
const codeBlockPlaceholder = "code block omitted."

// Markup patterns, compiled once. Order matters below: strong before
// emphasis so "**" is not half-consumed by the single-marker pattern.
var (
	codeBlockRegex     = regexp.MustCompile("(?s)```[^`]*```|~~~[^~]*~~~")
	inlineCodeRegex    = regexp.MustCompile("`([^`]+)`")
	linkRegex          = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	imageRegex         = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	strongRegex        = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	emphasisRegex      = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	strikethroughRegex = regexp.MustCompile(`~~([^~]+)~~`)
	headingRegex       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	listItemRegex      = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	blockquoteRegex    = regexp.MustCompile(`(?m)^>\s*`)
	htmlTagRegex       = regexp.MustCompile(`<[^>]+>`)
)

// Sanitize strips markdown and markup from a detected sentence so only
// speakable words remain, and collapses all whitespace runs to single
// spaces. An empty return means the sentence held nothing speakable.
func Sanitize(text string) string {
	out := codeBlockRegex.ReplaceAllString(text, codeBlockPlaceholder)
	out = imageRegex.ReplaceAllString(out, "")
	out = linkRegex.ReplaceAllString(out, "$1")
	out = inlineCodeRegex.ReplaceAllString(out, "$1")
	out = strongRegex.ReplaceAllString(out, "$1$2")
	out = emphasisRegex.ReplaceAllString(out, "$1$2")
	out = strikethroughRegex.ReplaceAllString(out, "$1")
	out = headingRegex.ReplaceAllString(out, "")
	out = listItemRegex.ReplaceAllString(out, "")
	out = blockquoteRegex.ReplaceAllString(out, "")
	out = htmlTagRegex.ReplaceAllString(out, "")
	return strings.Join(strings.Fields(out), " ")
}
