package sanitize_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/service/sanitize"
)

func testRules() config.Rules {
	r := config.DefaultRules()
	r.Emojis = nil // most tests want deterministic text
	return r
}

func TestClean_ShortTextUnchanged(t *testing.T) {
	t.Parallel()
	s := sanitize.New(testRules())
	got := s.Clean("hola que mas", "", false)
	assert.Equal(t, "hola que mas", got.Text)
}

func TestClean_CollapsesPunctuationRuns(t *testing.T) {
	t.Parallel()
	s := sanitize.New(testRules())
	got := s.Clean("en serio!!! no te creo???", "", false)
	assert.Equal(t, "en serio! no te creo?", got.Text)
}

func TestClean_TruncatesWithFiller(t *testing.T) {
	t.Parallel()
	s := sanitize.New(testRules())
	long := strings.Repeat("palabra ", 20)
	got := s.Clean(long, "", false)
	words := strings.Fields(got.Text)
	require.Len(t, words, 13) // cap 12 + filler
	assert.Equal(t, "jeje", words[12])
}

func TestClean_DenyListReplacesWholeOutput(t *testing.T) {
	t.Parallel()
	rules := testRules()
	s := sanitize.New(rules)
	got := s.Clean("buscame en Instagram porfa", "", false)
	assert.Equal(t, rules.Deny.Redirect, got.Text)
	assert.NotContains(t, strings.ToLower(got.Text), "instagram")
}

func TestClean_RepeatOfLastAgentLine(t *testing.T) {
	t.Parallel()
	rules := testRules()
	s := sanitize.New(rules)
	got := s.Clean("Te Quiero Mucho", "te quiero mucho", false)
	assert.Equal(t, rules.RepeatFiller, got.Text)
	assert.NotEmpty(t, got.Text)
}

func TestClean_RecentGlobalSet(t *testing.T) {
	t.Parallel()
	rules := testRules()
	s := sanitize.New(rules)
	first := s.Clean("una frase muy original", "", false)
	assert.Equal(t, "una frase muy original", first.Text)
	// same line for a different user collides with the recent set
	second := s.Clean("una frase MUY original", "", false)
	assert.Equal(t, rules.RepeatFiller, second.Text)
}

func TestClean_RecentSetEvictsOldest(t *testing.T) {
	t.Parallel()
	rules := testRules()
	rules.RecentCap = 3
	s := sanitize.New(rules)
	for i := 0; i < 4; i++ {
		s.Clean(fmt.Sprintf("linea numero %d unica", i), "", false)
	}
	// the first line has been evicted, so it is accepted again
	got := s.Clean("linea numero 0 unica", "", false)
	assert.Equal(t, "linea numero 0 unica", got.Text)
}

func TestClean_EmptyOutputFallsBack(t *testing.T) {
	t.Parallel()
	rules := testRules()
	s := sanitize.New(rules)
	got := s.Clean("   ", "", false)
	assert.Equal(t, rules.RepeatFiller, got.Text)
}

func TestClean_EmojiAlternation(t *testing.T) {
	t.Parallel()
	rules := config.DefaultRules()
	s := sanitize.New(rules)

	first := s.Clean("hola linda", "", false)
	assert.True(t, first.EmojiLastReply)
	assert.NotEqual(t, "hola linda", first.Text) // emoji appended

	second := s.Clean("como estas hoy 😊", "", true)
	assert.False(t, second.EmojiLastReply)
	assert.Equal(t, "como estas hoy", second.Text) // emoji stripped
}
