//go:build !unix

package preflight

import (
	"os"
	"path/filepath"
)

// checkAccess probes writability by creating a temporary file.
func checkAccess(path string) error {
	f, err := os.CreateTemp(path, ".airecorder-preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
