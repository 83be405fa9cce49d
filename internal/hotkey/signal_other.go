//go:build !unix

package hotkey

import "os"

func toggleSignals() []os.Signal { return nil }
