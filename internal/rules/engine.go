// Package rules implements the ordered glob/regex rule evaluation that
// gates proxy admission and cache persistence (spec §4.4), grounded on
// olah/configs.py's OlahRule/OlahRuleList.
package rules

import (
	"path"
	"regexp"
	"sync"
)

// Rule is one ordered gate: Pattern matched against "org/repo" (glob by
// default, anchored regex if UseRegex), producing Allow when it matches.
type Rule struct {
	Pattern  string
	UseRegex bool
	Allow    bool
}

func (r Rule) match(repo string) bool {
	if r.UseRegex {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		loc := re.FindStringIndex(repo)
		return loc != nil && loc[0] == 0
	}
	// path.Match implements shell glob semantics (*, ?, [..]) over a
	// single path-like string. No ecosystem glob library appears
	// anywhere in the example corpus (see DESIGN.md); stdlib is used
	// here deliberately, not by default.
	ok, err := path.Match(r.Pattern, repo)
	return err == nil && ok
}

// Engine holds an ordered rule list. allow(x) is the Allow value of the
// last matching rule, or false if none match (spec §4.4, invariant 6).
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// DefaultRules mirrors olah/configs.py's DEFAULT_PROXY_RULES /
// DEFAULT_CACHE_RULES: allow everything, both one- and two-segment forms.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "*", Allow: true},
		{Pattern: "*/*", Allow: true},
	}
}

// New builds an Engine from an ordered rule list.
func New(rules []Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Allow evaluates every rule in order; the result is the Allow of the
// last rule that matched repo. Unmatched repos are denied.
func (e *Engine) Allow(repo string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allow := false
	for _, r := range e.rules {
		if r.match(repo) {
			allow = r.Allow
		}
	}
	return allow
}

// Replace atomically swaps the rule list, used on config reload (SIGHUP
// or fsnotify — see SPEC_FULL.md §3.3).
func (e *Engine) Replace(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule(nil), rules...)
}

// Rules returns a copy of the current rule list, for inspection/tests.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}
