package conversation

import (
	"regexp"
	"strings"
)

// reasoningPatterns match the reasoning traces various model families leave
// in their answers.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<think>.*?</think>`),
	regexp.MustCompile(`(?s)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?s)\[Reasoning\].*?\[/Reasoning\]`),
	regexp.MustCompile(`(?s)\[Thoughts?\].*?\[/Thoughts?\]`),
	regexp.MustCompile(`(?is)\*\*Thought:?[^*\n]*`),
	regexp.MustCompile(`(?is)\*Reasoning:?[^*\n]*`),
	regexp.MustCompile(`(?is)let['’]s reason step by step:.*`),
	regexp.MustCompile(`(?is)let['’]s think step by step:.*`),
	regexp.MustCompile(`(?is)thinking process:.*`),
}

var blankRuns = regexp.MustCompile(`\n{2,}`)

// StripReasoning removes reasoning traces from model output and collapses
// the blank lines they leave behind.
func StripReasoning(text string) string {
	for _, re := range reasoningPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}
