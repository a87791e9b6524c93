// Package reply implements the ordered, short-circuiting reply pipeline:
// trigger match, scripted sequence, generative fallback. The pipeline always
// produces a reply; generative failures degrade to a fixed apology rather
// than propagating.
package reply

import (
	"errors"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/charlalabs/charla-gateway/internal/adapter/observability"
	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/sanitize"
	"github.com/charlalabs/charla-gateway/pkg/textx"
)

// Pipeline holds the declarative rules, the sanitizer for generative output
// and the chat client. It is safe for concurrent use.
type Pipeline struct {
	rules     config.Rules
	sanitizer *sanitize.Sanitizer
	chat      domain.ChatClient
}

// New constructs a Pipeline.
func New(rules config.Rules, sanitizer *sanitize.Sanitizer, chat domain.ChatClient) *Pipeline {
	return &Pipeline{rules: rules, sanitizer: sanitizer, chat: chat}
}

// Outcome is the produced reply plus the state changes the caller must
// persist under the user's lock.
type Outcome struct {
	Text      string
	Source    string
	EmojiLast bool
	Progress  domain.Progress
}

// Respond runs the chain for one inbound message against the loaded state.
func (p *Pipeline) Respond(ctx domain.Context, conv *domain.Conversation, message string) Outcome {
	if text, ok := p.matchTrigger(message); ok {
		observability.RepliesTotal.WithLabelValues(domain.SourceTrigger).Inc()
		return Outcome{Text: text, Source: domain.SourceTrigger, EmojiLast: conv.EmojiLastMessage, Progress: conv.Progress}
	}
	if text, progress, ok := p.nextScriptedLine(conv); ok {
		observability.RepliesTotal.WithLabelValues(domain.SourceScripted).Inc()
		return Outcome{Text: text, Source: domain.SourceScripted, EmojiLast: conv.EmojiLastMessage, Progress: progress}
	}
	return p.generate(ctx, conv, message)
}

// matchTrigger returns a random candidate for the first rule whose phrase
// appears in the message, case-insensitively.
func (p *Pipeline) matchTrigger(message string) (string, bool) {
	for _, rule := range p.rules.Triggers {
		for _, phrase := range rule.Phrases {
			if phrase == "" || len(rule.Replies) == 0 {
				continue
			}
			if textx.ContainsFold(message, phrase) {
				return rule.Replies[rand.Intn(len(rule.Replies))], true
			}
		}
	}
	return "", false
}

// nextScriptedLine emits the next line of the fixed sequence once the user
// has sent enough messages, advancing the progress index.
func (p *Pipeline) nextScriptedLine(conv *domain.Conversation) (string, domain.Progress, bool) {
	script := p.rules.Script
	progress := conv.Progress
	if len(script.Lines) == 0 || progress.ScriptDone {
		return "", progress, false
	}
	// A persisted index can point past the end when the rules file was
	// shortened between deploys. Treat that as a finished script.
	if progress.ScriptIndex >= len(script.Lines) {
		progress.ScriptDone = true
		conv.Progress = progress
		return "", progress, false
	}
	if conv.UserTurns() < script.AfterUserTurns {
		return "", progress, false
	}
	line := script.Lines[progress.ScriptIndex]
	progress.ScriptIndex++
	if progress.ScriptIndex >= len(script.Lines) {
		progress.ScriptDone = true
	}
	return line, progress, true
}

// generate invokes the chat client and sanitizes its output. Provider
// errors degrade to fixed apology strings; the pipeline never fails.
func (p *Pipeline) generate(ctx domain.Context, conv *domain.Conversation, message string) Outcome {
	preamble := p.buildPreamble(conv)

	raw, err := p.chat.Chat(ctx, preamble, conv.History, message)
	if err != nil {
		observability.RepliesTotal.WithLabelValues(domain.SourceDegraded).Inc()
		text := p.apology(err)
		return Outcome{Text: text, Source: domain.SourceDegraded, EmojiLast: conv.EmojiLastMessage, Progress: conv.Progress}
	}

	res := p.sanitizer.Clean(raw, conv.LastAgentText(), conv.EmojiLastMessage)
	observability.RepliesTotal.WithLabelValues(domain.SourceGenerated).Inc()
	return Outcome{Text: res.Text, Source: domain.SourceGenerated, EmojiLast: res.EmojiLastReply, Progress: conv.Progress}
}

func (p *Pipeline) buildPreamble(conv *domain.Conversation) string {
	if len(conv.Memories) == 0 {
		return p.rules.Persona
	}
	var b strings.Builder
	b.WriteString(p.rules.Persona)
	b.WriteString("\nCosas que sabes de esta persona:\n")
	for _, m := range conv.Memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Pipeline) apology(err error) string {
	if errors.Is(err, domain.ErrModelNotFound) {
		return p.rules.ModelGoneReply
	}
	slog.Error("generative step degraded to apology", slog.Any("error", err))
	if len(p.rules.Apologies) == 0 {
		return p.rules.RepeatFiller
	}
	return p.rules.Apologies[rand.Intn(len(p.rules.Apologies))]
}

// ExtractMemory scans the inbound message for memory trigger phrases and
// returns the matched fact, trimmed to a short length.
func (p *Pipeline) ExtractMemory(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, trigger := range p.rules.MemoryTriggers {
		ix := strings.Index(lower, strings.ToLower(trigger))
		if ix < 0 {
			continue
		}
		fact := strings.TrimSpace(message[ix:])
		fact = textx.TruncateWords(fact, 12, "")
		if fact != "" {
			return fact, true
		}
	}
	return "", false
}
