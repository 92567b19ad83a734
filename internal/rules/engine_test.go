package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vtuber-plan/olah/internal/rules"
)

func TestEngine_DefaultAllowsAll(t *testing.T) {
	e := rules.New(rules.DefaultRules())
	assert.True(t, e.Allow("gpt2"))
	assert.True(t, e.Allow("meta-llama/Llama-3"))
}

func TestEngine_LastMatchWins(t *testing.T) {
	e := rules.New([]rules.Rule{
		{Pattern: "*", Allow: true},
		{Pattern: "blocked-org/*", Allow: false},
	})
	assert.True(t, e.Allow("meta-llama/Llama-3"))
	assert.False(t, e.Allow("blocked-org/secret"))
}

func TestEngine_UnmatchedDenies(t *testing.T) {
	e := rules.New([]rules.Rule{
		{Pattern: "allowed-org/*", Allow: true},
	})
	assert.False(t, e.Allow("other-org/repo"))
}

func TestEngine_Regex(t *testing.T) {
	e := rules.New([]rules.Rule{
		{Pattern: `^meta-.*`, UseRegex: true, Allow: true},
	})
	assert.True(t, e.Allow("meta-llama/Llama-3"))
	assert.False(t, e.Allow("not-meta/thing"))
}

func TestEngine_Replace(t *testing.T) {
	e := rules.New(rules.DefaultRules())
	assert.True(t, e.Allow("anything"))

	e.Replace([]rules.Rule{{Pattern: "*", Allow: false}})
	assert.False(t, e.Allow("anything"))
}
