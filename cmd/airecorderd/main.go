// Command airecorderd is the background recorder. It owns the capture
// devices, answers airecorder over a Unix socket and listens for the global
// toggle hotkey.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.design/x/mainthread"
)

func main() {
	// Global hotkeys on macOS must be registered from the main thread, so the
	// daemon itself runs on a secondary goroutine.
	mainthread.Init(run)
}

func run() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
