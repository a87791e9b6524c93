package reply_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/reply"
	"github.com/charlalabs/charla-gateway/internal/service/sanitize"
)

type stubChat struct {
	reply string
	err   error
	calls int
}

func (s *stubChat) Chat(_ domain.Context, _ string, _ []domain.Message, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func pipelineRules() config.Rules {
	r := config.DefaultRules()
	r.Emojis = nil
	r.Triggers = []config.TriggerRule{
		{Phrases: []string{"precio", "cuanto cuesta"}, Replies: []string{"eso no lo se jeje"}},
	}
	return r
}

func newPipeline(rules config.Rules, chat domain.ChatClient) *reply.Pipeline {
	return reply.New(rules, sanitize.New(rules), chat)
}

func TestRespond_TriggerShortCircuits(t *testing.T) {
	t.Parallel()
	chat := &stubChat{reply: "nunca deberia salir"}
	p := newPipeline(pipelineRules(), chat)
	conv := domain.NewConversation("u1")

	out := p.Respond(context.Background(), &conv, "y el PRECIO de eso?")
	assert.Equal(t, "eso no lo se jeje", out.Text)
	assert.Equal(t, domain.SourceTrigger, out.Source)
	assert.Zero(t, chat.calls, "generative step must not run on a trigger match")
}

func TestRespond_ScriptedSequenceAdvances(t *testing.T) {
	t.Parallel()
	rules := pipelineRules()
	rules.Triggers = nil
	rules.Script = config.ScriptRules{AfterUserTurns: 1, Lines: []string{"linea uno", "linea dos"}}
	chat := &stubChat{reply: "generado"}
	p := newPipeline(rules, chat)

	conv := domain.NewConversation("u1")
	// first message: not enough user turns yet, generative runs
	out := p.Respond(context.Background(), &conv, "hola")
	assert.Equal(t, domain.SourceGenerated, out.Source)

	conv.Append(0, domain.Message{Role: domain.RoleUser, Text: "hola"}, domain.Message{Role: domain.RoleAgent, Text: out.Text})
	out = p.Respond(context.Background(), &conv, "sigues ahi?")
	assert.Equal(t, "linea uno", out.Text)
	assert.Equal(t, domain.SourceScripted, out.Source)
	assert.Equal(t, 1, out.Progress.ScriptIndex)
	assert.False(t, out.Progress.ScriptDone)

	conv.Progress = out.Progress
	conv.Append(0, domain.Message{Role: domain.RoleUser, Text: "sigues ahi?"}, domain.Message{Role: domain.RoleAgent, Text: out.Text})
	out = p.Respond(context.Background(), &conv, "cuenta mas")
	assert.Equal(t, "linea dos", out.Text)
	assert.True(t, out.Progress.ScriptDone)

	// a persisted index past the end of a shortened script must not panic
	// and must fall through to the generative step
	stale := domain.NewConversation("u2")
	stale.Progress = domain.Progress{ScriptIndex: 3}
	out = p.Respond(context.Background(), &stale, "volvi")
	assert.Equal(t, domain.SourceGenerated, out.Source)
	assert.NotEmpty(t, out.Text)
	assert.True(t, out.Progress.ScriptDone, "stale index is clamped to done")

	conv.Progress = out.Progress
	out = p.Respond(context.Background(), &conv, "y ahora?")
	assert.Equal(t, domain.SourceGenerated, out.Source, "completed script must fall through to generation")
}

func TestRespond_GenerativeSanitized(t *testing.T) {
	t.Parallel()
	rules := pipelineRules()
	chat := &stubChat{reply: "vamos a hablar por instagram mejor"}
	p := newPipeline(rules, chat)
	conv := domain.NewConversation("u1")

	out := p.Respond(context.Background(), &conv, "donde hablamos?")
	assert.Equal(t, rules.Deny.Redirect, out.Text)
	assert.Equal(t, domain.SourceGenerated, out.Source)
}

func TestRespond_ModelGoneApology(t *testing.T) {
	t.Parallel()
	rules := pipelineRules()
	chat := &stubChat{err: domain.ErrModelNotFound}
	p := newPipeline(rules, chat)
	conv := domain.NewConversation("u1")

	out := p.Respond(context.Background(), &conv, "hey")
	assert.Equal(t, rules.ModelGoneReply, out.Text)
	assert.Equal(t, domain.SourceDegraded, out.Source)
}

func TestRespond_ProviderErrorDegrades(t *testing.T) {
	t.Parallel()
	rules := pipelineRules()
	chat := &stubChat{err: errors.New("boom")}
	p := newPipeline(rules, chat)
	conv := domain.NewConversation("u1")

	out := p.Respond(context.Background(), &conv, "hey")
	require.NotEmpty(t, out.Text)
	assert.Contains(t, rules.Apologies, out.Text)
	assert.Equal(t, domain.SourceDegraded, out.Source)
}

func TestRespond_RepeatedReplySubstituted(t *testing.T) {
	t.Parallel()
	rules := pipelineRules()
	chat := &stubChat{reply: "te quiero mucho"}
	p := newPipeline(rules, chat)

	conv := domain.NewConversation("u1")
	conv.Append(0,
		domain.Message{Role: domain.RoleUser, Text: "hola"},
		domain.Message{Role: domain.RoleAgent, Text: "te quiero mucho"},
	)
	out := p.Respond(context.Background(), &conv, "me quieres?")
	assert.Equal(t, rules.RepeatFiller, out.Text)
	assert.NotEmpty(t, out.Text)
}

func TestExtractMemory(t *testing.T) {
	t.Parallel()
	p := newPipeline(pipelineRules(), &stubChat{})

	fact, ok := p.ExtractMemory("pues Me Gusta bailar salsa")
	require.True(t, ok)
	assert.Equal(t, "Me Gusta bailar salsa", fact)

	_, ok = p.ExtractMemory("hola que tal")
	assert.False(t, ok)
}
