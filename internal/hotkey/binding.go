package hotkey

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultBinding is the toggle combination used when none is configured.
const DefaultBinding = "ctrl+shift+r"

// Canonical modifier names.
const (
	ModCtrl  = "ctrl"
	ModShift = "shift"
	ModAlt   = "alt"
	ModSuper = "super"
)

var modifierAliases = map[string]string{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"win":     ModSuper,
	"meta":    ModSuper,
}

var modifierOrder = []string{ModCtrl, ModShift, ModAlt, ModSuper}

var keyAliases = map[string]string{
	"enter":  "return",
	"return": "return",
	"esc":    "escape",
	"escape": "escape",
	"space":  "space",
	"tab":    "tab",
	"del":    "delete",
	"delete": "delete",
	"left":   "left",
	"right":  "right",
	"up":     "up",
	"down":   "down",
}

// Binding is a parsed key combination with canonical names.
type Binding struct {
	Modifiers []string
	Key       string
}

// String renders the binding in canonical form, e.g. ctrl+shift+r.
func (b Binding) String() string {
	parts := append(slices.Clone(b.Modifiers), b.Key)
	return strings.Join(parts, "+")
}

// Parse reads a binding such as "Ctrl+Shift+R" or "cmd+alt+f9". A binding
// needs at least one modifier and exactly one key.
func Parse(value string) (Binding, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return Binding{}, fmt.Errorf("hotkey binding is empty")
	}
	var b Binding
	seen := map[string]bool{}
	for _, raw := range strings.Split(text, "+") {
		token := strings.TrimSpace(raw)
		if token == "" {
			return Binding{}, fmt.Errorf("hotkey binding %q: empty component", value)
		}
		if mod, ok := modifierAliases[token]; ok {
			if seen[mod] {
				return Binding{}, fmt.Errorf("hotkey binding %q: %s repeated", value, mod)
			}
			seen[mod] = true
			continue
		}
		key, ok := canonicalKey(token)
		if !ok {
			return Binding{}, fmt.Errorf("hotkey binding %q: unknown key %q", value, token)
		}
		if b.Key != "" {
			return Binding{}, fmt.Errorf("hotkey binding %q: more than one key", value)
		}
		b.Key = key
	}
	if b.Key == "" {
		return Binding{}, fmt.Errorf("hotkey binding %q: missing key", value)
	}
	for _, mod := range modifierOrder {
		if seen[mod] {
			b.Modifiers = append(b.Modifiers, mod)
		}
	}
	if len(b.Modifiers) == 0 {
		return Binding{}, fmt.Errorf("hotkey binding %q: needs a modifier", value)
	}
	return b, nil
}

func canonicalKey(token string) (string, bool) {
	if len(token) == 1 {
		c := token[0]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			return token, true
		}
		return "", false
	}
	if alias, ok := keyAliases[token]; ok {
		return alias, true
	}
	if strings.HasPrefix(token, "f") {
		var n int
		if _, err := fmt.Sscanf(token, "f%d", &n); err == nil && n >= 1 && n <= 12 && token == fmt.Sprintf("f%d", n) {
			return token, true
		}
	}
	return "", false
}
