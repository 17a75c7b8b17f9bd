package task

import (
	"regexp"
	"strings"
)

const (
	maxSummaryRunes     = 500
	minSummaryMatchLen  = 10
	emptySummaryMessage = "Task completed."
)

// Phrases the remote model tends to open its final report with. Each match
// runs to the end of the text, so the last one is the final report.
var finalResponsePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)(?:I have |I've |I successfully |I was able to |I managed to |Done\.|Task completed|Successfully |Completed ).*`),
	regexp.MustCompile(`(?is)(?:The task |Your request |The operation ).*(?:completed|finished|done|successful).*`),
	regexp.MustCompile(`(?is)(?:I can see |I found |I opened |I created |I sent |I searched ).*`),
}

var (
	sentenceSplit    = regexp.MustCompile(`[.!?]+`)
	technicalContent = regexp.MustCompile(`(?i)screenshot|image|base64|tool_use|function_call`)

	dataURL         = regexp.MustCompile(`data:[^;]+;base64,[A-Za-z0-9+/=]+`)
	bareBase64      = regexp.MustCompile(`\b[A-Za-z0-9+/]{50,}={0,2}\b`)
	imageMarkers    = regexp.MustCompile(`(?i)\[screenshot\]|\[image\]|\[Image:.*?\]`)
	screenshotTaken = regexp.MustCompile(`(?i)Screenshot taken\.?\s*`)
	imageCaptured   = regexp.MustCompile(`(?i)Image captured\.?\s*`)
	toolUsedLine    = regexp.MustCompile(`(?i)Tool used:.*?\n`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// base64 prefixes of PNG, JPEG and WEBP payloads
var binaryPrefixes = []string{"data:", "iVBOR", "/9j/", "UklGR"}

// Summarize extracts a short user-facing report from the remote's raw text,
// dropping tool-call chatter, inline images and base64 blobs. The raw text is
// kept on Result.Text; this only feeds Result.Summary.
func Summarize(text string) string {
	if text == "" {
		return emptySummaryMessage
	}

	for _, pattern := range finalResponsePatterns {
		matches := pattern.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		last := strings.TrimSpace(matches[len(matches)-1])
		if len(last) > minSummaryMatchLen {
			return clean(last)
		}
	}

	var meaningful []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= minSummaryMatchLen || technicalContent.MatchString(sentence) || hasBinaryPrefix(sentence) {
			continue
		}
		meaningful = append(meaningful, sentence)
	}
	if len(meaningful) > 0 {
		return clean(meaningful[len(meaningful)-1] + ".")
	}

	return clean(text)
}

func hasBinaryPrefix(s string) bool {
	for _, p := range binaryPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func clean(text string) string {
	text = dataURL.ReplaceAllString(text, "")
	text = bareBase64.ReplaceAllString(text, "")
	text = imageMarkers.ReplaceAllString(text, "")
	text = screenshotTaken.ReplaceAllString(text, "")
	text = imageCaptured.ReplaceAllString(text, "")
	text = toolUsedLine.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")

	if runes := []rune(text); len(runes) > maxSummaryRunes {
		text = string(runes[:maxSummaryRunes-3]) + "..."
	}
	return strings.TrimSpace(text)
}
