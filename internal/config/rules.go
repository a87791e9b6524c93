// Package config provides loading of the declarative reply rules.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TriggerRule maps literal phrases to a set of candidate canned replies.
// Matching is case-insensitive substring; one candidate is picked uniformly
// at random.
type TriggerRule struct {
	Phrases []string `yaml:"phrases"`
	Replies []string `yaml:"replies"`
}

// ScriptRules is a fixed ordered sequence delivered one line per qualifying
// message once the user has sent at least AfterUserTurns messages.
type ScriptRules struct {
	AfterUserTurns int      `yaml:"after_user_turns"`
	Lines          []string `yaml:"lines"`
}

// DenyRules replaces any generative output containing a listed term with the
// redirect line.
type DenyRules struct {
	Terms    []string `yaml:"terms"`
	Redirect string   `yaml:"redirect"`
}

// Rules is the full declarative content injected into the reply pipeline and
// sanitizer. The pipeline itself stays free of embedded content.
type Rules struct {
	Persona        string        `yaml:"persona"`
	BlockedUsers   []string      `yaml:"blocked_users"`
	Triggers       []TriggerRule `yaml:"triggers"`
	Script         ScriptRules   `yaml:"script"`
	Deny           DenyRules     `yaml:"deny"`
	MaxReplyWords  int           `yaml:"max_reply_words"`
	TruncateFiller string        `yaml:"truncate_filler"`
	RepeatFiller   string        `yaml:"repeat_filler"`
	Apologies      []string      `yaml:"apologies"`
	ModelGoneReply string        `yaml:"model_gone_reply"`
	Emojis         []string      `yaml:"emojis"`
	MemoryTriggers []string      `yaml:"memory_triggers"`
	RecentCap      int           `yaml:"recent_cap"`
}

// DefaultRules returns the built-in rule set used when no rules file is
// configured.
func DefaultRules() Rules {
	return Rules{
		Persona: "Eres Tatiana, una mujer colombiana de 21 anos. " +
			"Responde muy corto, como un chat real, natural y tierna.",
		BlockedUsers: []string{"game of thrones"},
		Triggers: []TriggerRule{
			{
				Phrases: []string{"hola", "buenas"},
				Replies: []string{"holaa, como estas?", "holi, que haces?"},
			},
		},
		Script: ScriptRules{AfterUserTurns: 0},
		Deny: DenyRules{
			Terms:    []string{"facebook", "instagram", "whatsapp", "tiktok"},
			Redirect: "ajj mejor cambiemos de tema jeje",
		},
		MaxReplyWords:  12,
		TruncateFiller: "jeje",
		RepeatFiller:   "ajj dime otra cosita jeje",
		Apologies:      []string{"mmm fallo algo jeje", "ayy se me trabo esto jeje"},
		ModelGoneReply: "ese modelo ya no esta jeje",
		Emojis:         []string{"😉", "😊", "🔥", "😏", "🥺"},
		MemoryTriggers: []string{"me gusta", "soy de"},
		RecentCap:      30,
	}
}

// LoadRules reads a YAML rules file, filling omitted fields from the
// defaults. An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	content, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return Rules{}, fmt.Errorf("op=config.LoadRules: %w", err)
	}
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return Rules{}, fmt.Errorf("op=config.LoadRules: parse %s: %w", path, err)
	}
	if rules.Deny.Redirect == "" {
		rules.Deny.Redirect = DefaultRules().Deny.Redirect
	}
	if rules.RecentCap <= 0 {
		rules.RecentCap = DefaultRules().RecentCap
	}
	return rules, nil
}
