package keyboard

import (
	"testing"

	"golang.design/x/hotkey"

	hk "airecorder/internal/hotkey"
)

func TestResolveDefaultBinding(t *testing.T) {
	b, err := hk.Parse(hk.DefaultBinding)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mods, key, err := Resolve(b)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != hotkey.KeyR {
		t.Fatalf("key = %v, want R", key)
	}
	if len(mods) != 2 || mods[0] != hotkey.ModCtrl || mods[1] != hotkey.ModShift {
		t.Fatalf("modifiers = %v", mods)
	}
}

func TestResolveEveryParsableKey(t *testing.T) {
	for _, name := range []string{"a", "z", "0", "9", "f1", "f12", "space", "return", "escape", "tab", "delete", "left", "down"} {
		b, err := hk.Parse("alt+" + name)
		if err != nil {
			t.Fatalf("Parse(%s): %v", name, err)
		}
		if _, _, err := Resolve(b); err != nil {
			t.Fatalf("Resolve(%s): %v", name, err)
		}
	}
}

func TestResolveRejectsUnknownKey(t *testing.T) {
	if _, _, err := Resolve(hk.Binding{Modifiers: []string{hk.ModCtrl}, Key: "f24"}); err == nil {
		t.Fatal("expected error for unsupported key")
	}
}
