package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		pattern string
		want    bool
	}{
		{"literal match", "news", "news", true},
		{"literal mismatch", "news", "newt", false},
		{"literal prefix is not a match", "newsroom", "news", false},
		{"empty pattern empty data", "", "", true},
		{"empty pattern nonempty data", "x", "", false},

		{"question mark one byte", "user.4", "user.?", true},
		{"question mark needs a byte", "user.", "user.?", false},
		{"question mark exactly one byte", "user.42", "user.?", false},

		{"star suffix", "user.42", "user.*", true},
		{"star matches empty", "user.", "user.*", true},
		{"star prefix mismatch", "users.42", "user.*", false},
		{"star in middle", "log-2024-final.txt", "log-*.txt", true},
		{"star backtracks past false stop", "a.txt.txt", "a*.txt", true},
		{"trailing star short-circuit", "anything at all", "any*", true},
		{"lone star", "whatever", "*", true},
		{"lone star empty data", "", "*", true},
		{"two stars", "abc", "a*b*c", true},
		{"star then literal tail", "abxc", "a*c", true},
		{"star cannot invent bytes", "ab", "a*bc", false},

		{"class digit", "log-7.txt", "log-[0-9].txt", true},
		{"class digit reject", "log-a.txt", "log-[0-9].txt", false},
		{"negated class", "log-a.txt", "log-[^0-9].txt", true},
		{"negated class reject", "log-7.txt", "log-[^0-9].txt", false},
		{"class member list", "file-b", "file-[abc]", true},
		{"class member list reject", "file-d", "file-[abc]", false},
		{"bracket literal as first member", "file].txt", "file[]abc].txt", true},
		{"bracket class other members", "filea.txt", "file[]abc].txt", true},
		{"bracket class reject", "filex.txt", "file[]abc].txt", false},
		{"swapped range endpoints", "m", "[z-a]", true},
		{"unterminated class never matches", "file0", "file[0", false},
		{"unterminated class not literal either", "file[0", "file[0", false},

		{"escaped star is literal", "a*b", `a\*b`, true},
		{"escaped star rejects expansion", "axxb", `a\*b`, false},
		{"escaped question mark", "a?b", `a\?b`, true},
		{"escaped bracket", "a[b", `a\[b`, true},
		{"escaped ordinary byte", "ab", `a\b`, true},

		{"pattern delivery example", "user.42", "user.*", true},
		{"pattern delivery counterexample", "users.42", "user.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match([]byte(tt.data), []byte(tt.pattern)))
		})
	}
}

// Doubling a star never changes the outcome.
func TestMatchStarDoubling(t *testing.T) {
	data := []string{"ab", "axb", "axxxb", "ba", "a", "b", ""}
	for _, d := range data {
		single := Match([]byte(d), []byte("a*b"))
		double := Match([]byte(d), []byte("a**b"))
		assert.Equal(t, single, double, "data %q", d)
	}
}

func TestMatchRawBytes(t *testing.T) {
	assert.True(t, Match([]byte{0x00, 0xff}, []byte{'?', 0xff}))
	assert.True(t, Match([]byte{0x80}, []byte{'[', 0x00, '-', 0xfe, ']'}))
	assert.False(t, Match([]byte{0xff}, []byte{'[', 0x00, '-', 0xfe, ']'}))
}
