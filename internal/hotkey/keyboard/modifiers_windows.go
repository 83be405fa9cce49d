package keyboard

import (
	"golang.design/x/hotkey"

	hk "airecorder/internal/hotkey"
)

var modifiers = map[string]hotkey.Modifier{
	hk.ModCtrl:  hotkey.ModCtrl,
	hk.ModShift: hotkey.ModShift,
	hk.ModAlt:   hotkey.ModAlt,
	hk.ModSuper: hotkey.ModWin,
}
