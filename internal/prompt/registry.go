// Package prompt holds the fixed set of text transformations and renders
// the instruction prompt sent to a generation backend.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned when an action is not registered.
var ErrUnknownAction = errors.New("unknown optimization action")

// Template is a single named transformation.
type Template struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Instruction string `json:"-"`
}

// Render substitutes text into the template's single placeholder.
func (t Template) Render(text string) string {
	return t.Instruction + "\n\n" + text
}

// Registry maps action names to templates. It is read-only after construction.
type Registry struct {
	ordered []Template
	byName  map[string]int
}

var builtin = []Template{
	{Key: "polish", Label: "Polish Writing", Instruction: "Enhance clarity and flow of the following text while preserving its meaning:"},
	{Key: "fix-grammar", Label: "Fix Grammar", Instruction: "Fix any grammar and spelling mistakes in the following text while preserving its meaning:"},
	{Key: "simplify", Label: "Simplify", Instruction: "Simplify the following text to make it easier to understand:"},
	{Key: "condense", Label: "Condense", Instruction: "Summarize the following text more concisely:"},
	{Key: "expand", Label: "Expand", Instruction: "Expand the following text with more detail and explanation:"},
	{Key: "professional-tone", Label: "Professional Tone", Instruction: "Rewrite the following text in a professional tone:"},
	{Key: "casual-tone", Label: "Casual Tone", Instruction: "Rewrite the following text in a casual and friendly tone:"},
	{Key: "persuasive-tone", Label: "Persuasive Tone", Instruction: "Rewrite the following text in a persuasive and compelling way:"},
}

var defaultRegistry = mustNewRegistry(builtin)

// Default returns the process-wide registry of the eight built-in actions.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry from templates. Keys and labels must be
// unique after normalization.
func NewRegistry(templates []Template) (*Registry, error) {
	r := &Registry{
		ordered: make([]Template, 0, len(templates)),
		byName:  make(map[string]int, len(templates)*2),
	}
	for _, t := range templates {
		if t.Key == "" || t.Instruction == "" {
			return nil, fmt.Errorf("template %q: key and instruction are required", t.Label)
		}
		idx := len(r.ordered)
		for _, name := range []string{t.Key, t.Label} {
			n := normalize(name)
			if n == "" {
				continue
			}
			if prev, ok := r.byName[n]; ok && prev != idx {
				return nil, fmt.Errorf("template name %q registered twice", name)
			}
			r.byName[n] = idx
		}
		r.ordered = append(r.ordered, t)
	}
	return r, nil
}

func mustNewRegistry(templates []Template) *Registry {
	r, err := NewRegistry(templates)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves an action by key or label, ignoring case and separators.
func (r *Registry) Lookup(action string) (Template, bool) {
	idx, ok := r.byName[normalize(action)]
	if !ok {
		return Template{}, false
	}
	return r.ordered[idx], true
}

// Render returns the prompt for action with text substituted verbatim.
func (r *Registry) Render(action, text string) (string, error) {
	t, ok := r.Lookup(action)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return t.Render(text), nil
}

// Templates returns the registered templates in declaration order.
func (r *Registry) Templates() []Template {
	out := make([]Template, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// normalize lowercases and joins words with '-' so that "Fix Grammar",
// "fix_grammar" and "fix-grammar" resolve to the same action.
func normalize(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	})
	return strings.Join(fields, "-")
}
