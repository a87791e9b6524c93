// Package sanitize post-processes generative output before it reaches the
// user. Trigger and scripted replies are pre-approved literals and bypass
// this package entirely.
//
// Rules run in a fixed order, each on the output of the previous one:
// punctuation collapsing, deny-list replacement, word-count truncation,
// anti-repetition, emoji alternation. Every rule yields a string; no rule
// ever fails.
package sanitize

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/pkg/textx"
)

var (
	punctRunRe = regexp.MustCompile(`([!?])[!?]+`)
	emojiRe    = regexp.MustCompile(`[\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F900}-\x{1F9FF}\x{2600}-\x{27BF}]`)
)

// Sanitizer applies the configured rule chain. It owns the bounded
// recent-output set shared across users, guarded by its own mutex.
type Sanitizer struct {
	rules config.Rules

	mu       sync.Mutex
	recent   []string
	recentIx map[string]struct{}
}

// New constructs a Sanitizer from the rule set.
func New(rules config.Rules) *Sanitizer {
	return &Sanitizer{rules: rules, recentIx: make(map[string]struct{})}
}

// Result carries the cleaned text and the updated emoji flag.
type Result struct {
	Text           string
	EmojiLastReply bool
}

// Clean runs the rule chain. lastAgentText is the previous agent line for
// this user; emojiLast is the stored emoji_last_message flag, alternated on
// every call.
func (s *Sanitizer) Clean(out, lastAgentText string, emojiLast bool) Result {
	out = strings.TrimSpace(out)

	out = collapsePunctuation(out)
	out = s.applyDenyList(out)
	out = textx.TruncateWords(out, s.rules.MaxReplyWords, s.rules.TruncateFiller)
	out = s.applyAntiRepetition(out, lastAgentText)
	out, emojiNext := s.applyEmojiPolicy(out, emojiLast)

	s.recordRecent(out)
	return Result{Text: out, EmojiLastReply: emojiNext}
}

// collapsePunctuation reduces runs of ! and ? to a single mark.
func collapsePunctuation(s string) string {
	return punctRunRe.ReplaceAllString(s, "$1")
}

// applyDenyList replaces the whole output with the redirect line when any
// deny-listed term appears.
func (s *Sanitizer) applyDenyList(out string) string {
	for _, term := range s.rules.Deny.Terms {
		if textx.ContainsFold(out, term) {
			return s.rules.Deny.Redirect
		}
	}
	return out
}

// applyAntiRepetition substitutes the filler when the candidate repeats the
// previous agent line or any entry of the recent-output set.
func (s *Sanitizer) applyAntiRepetition(out, lastAgentText string) string {
	key := strings.ToLower(strings.TrimSpace(out))
	if key == "" {
		return s.rules.RepeatFiller
	}
	if lastAgentText != "" && key == strings.ToLower(strings.TrimSpace(lastAgentText)) {
		return s.rules.RepeatFiller
	}
	s.mu.Lock()
	_, seen := s.recentIx[key]
	s.mu.Unlock()
	if seen {
		return s.rules.RepeatFiller
	}
	return out
}

// applyEmojiPolicy alternates decoration: append one emoji when the previous
// reply carried none, strip emojis otherwise. Returns the next flag value.
func (s *Sanitizer) applyEmojiPolicy(out string, emojiLast bool) (string, bool) {
	if len(s.rules.Emojis) == 0 {
		return out, false
	}
	if emojiLast {
		return strings.TrimSpace(emojiRe.ReplaceAllString(out, "")), false
	}
	if !emojiRe.MatchString(out) {
		out += " " + s.rules.Emojis[rand.Intn(len(s.rules.Emojis))]
	}
	return out, true
}

// recordRecent adds the emitted line to the bounded recent set, evicting the
// oldest entry past the cap. Filler lines are not recorded so they stay
// usable as substitutes.
func (s *Sanitizer) recordRecent(out string) {
	key := strings.ToLower(strings.TrimSpace(emojiRe.ReplaceAllString(out, "")))
	if key == "" || key == strings.ToLower(s.rules.RepeatFiller) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recentIx[key]; ok {
		return
	}
	s.recent = append(s.recent, key)
	s.recentIx[key] = struct{}{}
	if limit := s.rules.RecentCap; limit > 0 && len(s.recent) > limit {
		evicted := s.recent[0]
		s.recent = s.recent[1:]
		delete(s.recentIx, evicted)
	}
}
