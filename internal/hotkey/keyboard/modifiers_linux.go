package keyboard

import (
	"golang.design/x/hotkey"

	hk "airecorder/internal/hotkey"
)

// X11 maps Alt to Mod1 and Super to Mod4 on common layouts.
var modifiers = map[string]hotkey.Modifier{
	hk.ModCtrl:  hotkey.ModCtrl,
	hk.ModShift: hotkey.ModShift,
	hk.ModAlt:   hotkey.Mod1,
	hk.ModSuper: hotkey.Mod4,
}
