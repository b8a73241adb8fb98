// Package rewrite provides prompt rewrite hooks for policy-rejection retries.
// Hooks are pure: they read nothing but their arguments.
package rewrite

import (
	"strings"

	"github.com/cuongbtq/narra-sync/internal/orchestrator/domain"
)

// Substitution replaces one sensitive term
type Substitution struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// DefaultSubstitutions is applied by Sensitive, in order
var DefaultSubstitutions = []Substitution{
	{From: "裸", To: "穿着衣服"},
	{From: "nude", To: "clothed"},
	{From: "Nude", To: "Clothed"},
	{From: "血", To: "红色液体"},
	{From: "blood", To: "red"},
	{From: "Blood", To: "Red"},
	{From: "暴力", To: "剧烈活动"},
	{From: "violence", To: "action"},
	{From: "Violence", To: "Action"},
}

// DefaultSoftener is appended from the second rewrite on
const DefaultSoftener = ", tasteful, appropriate, decent"

// Sensitive is the default hook built from DefaultSubstitutions and DefaultSoftener
var Sensitive = New(DefaultSubstitutions, DefaultSoftener)

// New builds a hook. Attempt 1 substitutes terms; later attempts also append
// softener. The result only depends on the original payload and attempt.
func New(subs []Substitution, softener string) domain.RewriteFunc {
	pairs := make([]string, 0, len(subs)*2)
	for _, s := range subs {
		if s.From == "" {
			continue
		}
		pairs = append(pairs, s.From, s.To)
	}
	replacer := strings.NewReplacer(pairs...)

	return func(original domain.Payload, attempt int) domain.Payload {
		if attempt < 1 {
			return original
		}

		text := replacer.Replace(original.Text)
		if attempt >= 2 && softener != "" {
			text += softener
		}
		return original.WithText(text)
	}
}

// Merge returns the defaults followed by extra, dropping extra entries whose
// From is already covered
func Merge(extra []Substitution) []Substitution {
	seen := make(map[string]bool, len(DefaultSubstitutions))
	out := make([]Substitution, 0, len(DefaultSubstitutions)+len(extra))
	for _, s := range DefaultSubstitutions {
		seen[s.From] = true
		out = append(out, s)
	}
	for _, s := range extra {
		if s.From == "" || seen[s.From] {
			continue
		}
		seen[s.From] = true
		out = append(out, s)
	}
	return out
}
