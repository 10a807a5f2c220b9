package planner

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestIsGreeting(t *testing.T) {
	greetings := []string{
		"hi", "Hi!", "hello", "HELLO", "hey", "Good morning",
		"good evening!", "how are you?", "thanks", "Thank you", "bye",
		"  hello  ",
	}
	for _, q := range greetings {
		assert.True(t, IsGreeting(q), "expected greeting: %q", q)
	}

	notGreetings := []string{
		"", "hello world domination plans", "what is a hello protocol",
		"who said good morning in episode 3", "why did the project fail",
	}
	for _, q := range notGreetings {
		assert.False(t, IsGreeting(q), "unexpected greeting: %q", q)
	}
}

func TestMatchOutOfScope(t *testing.T) {
	cases := []struct {
		query  string
		reason string
	}{
		{"what is 2+2", "arithmetic is out of scope"},
		{"calculate 17 * 42", "arithmetic is out of scope"},
		{"write a function to sort a list", "coding tasks are out of scope"},
		{"fix this SQL for me", "coding tasks are out of scope"},
		{"what's the weather today", "weather is out of scope"},
		{"weather in Berlin", "weather is out of scope"},
		{"latest news about the election", "current events are out of scope"},
	}
	for _, tc := range cases {
		reason, ok := matchOutOfScope(tc.query)
		assert.True(t, ok, "expected out of scope: %q", tc.query)
		assert.Equal(t, tc.reason, reason)
	}

	_, ok := matchOutOfScope("what did Alice say about the migration")
	assert.False(t, ok)
}

// 快路径必须互斥：任何输入最多命中一边。
func TestFastPathsMutuallyExclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("greeting and out-of-scope never both match", prop.ForAll(
		func(q string) bool {
			if !IsGreeting(q) {
				return true
			}
			_, oos := matchOutOfScope(q)
			return !oos
		},
		gen.AnyString(),
	))

	properties.Property("fast paths are deterministic", prop.ForAll(
		func(q string) bool {
			g1, g2 := IsGreeting(q), IsGreeting(q)
			r1, ok1 := matchOutOfScope(q)
			r2, ok2 := matchOutOfScope(q)
			return g1 == g2 && ok1 == ok2 && r1 == r2
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
