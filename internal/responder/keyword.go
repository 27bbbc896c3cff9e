// Package responder produces the assistant's replies.
package responder

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/sortify/internal/chat"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule maps any of its keywords to a fixed reply.
type Rule struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

type ruleFile struct {
	Welcome  string `yaml:"welcome"`
	Fallback string `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// Keyword replies by case-insensitive keyword match. It is pure and
// always returns a non-empty reply.
type Keyword struct {
	welcome  string
	fallback string
	rules    []Rule
}

var _ chat.Responder = (*Keyword)(nil)

// Default returns the built-in recycling rules.
func Default() *Keyword {
	k, err := ParseKeyword(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return k
}

// LoadKeyword reads rules from a YAML file. An empty path returns Default().
func LoadKeyword(path string) (*Keyword, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseKeyword(data)
}

// ParseKeyword decodes YAML rules.
func ParseKeyword(data []byte) (*Keyword, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if strings.TrimSpace(f.Fallback) == "" {
		return nil, errors.New("rules need a fallback reply")
	}

	k := &Keyword{welcome: f.Welcome, fallback: f.Fallback}
	for i, r := range f.Rules {
		if strings.TrimSpace(r.Reply) == "" {
			return nil, fmt.Errorf("rule %d: empty reply", i+1)
		}
		var keywords []string
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rule %d: no keywords", i+1)
		}
		k.rules = append(k.rules, Rule{Keywords: keywords, Reply: r.Reply})
	}
	return k, nil
}

// Reply returns the first matching rule's reply, or the fallback.
func (k *Keyword) Reply(text string) string {
	lower := strings.ToLower(text)
	for _, r := range k.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Reply
			}
		}
	}
	return k.fallback
}

// Welcome returns the greeting for an empty chat. Empty means the engine
// default applies.
func (k *Keyword) Welcome() string {
	return k.welcome
}
