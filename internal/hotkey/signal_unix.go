//go:build unix

package hotkey

import (
	"os"
	"syscall"
)

func toggleSignals() []os.Signal { return []os.Signal{syscall.SIGUSR1} }
