package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReasoning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"think tag", "<think>\nweigh options\n</think>\n\nThe answer is 4.", "The answer is 4."},
		{"thinking tag", "<thinking>hmm</thinking>Done.", "Done."},
		{"reasoning block", "[Reasoning]a\nb[/Reasoning]\nResult.", "Result."},
		{"thought block", "[Thought]x[/Thought]Yes.", "Yes."},
		{"bold thought prefix", "**Thought: I should check\nIt is sunny.", "It is sunny."},
		{"step by step tail", "Sure.\nLet's think step by step: first...\nsecond", "Sure."},
		{"curly apostrophe", "Ok.\nlet’s reason step by step: a", "Ok."},
		{"collapses blank lines", "a\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StripReasoning(tt.in))
		})
	}
}
