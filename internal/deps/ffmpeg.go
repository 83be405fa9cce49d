package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// CheckFFmpeg reports the FFmpeg binary capture and merge will execute.
//
// An explicitly configured path wins. A bare "ffmpeg" prefers a binary that
// ships next to the airecorder executable and falls back to PATH.
func CheckFFmpeg(configured string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Required for capture and merging",
	}
	bin := strings.TrimSpace(configured)
	if bin == "" {
		bin = executableName("ffmpeg")
	}

	if bin != executableName("ffmpeg") || strings.ContainsRune(bin, filepath.Separator) {
		result.Command = bin
		if resolved, err := exec.LookPath(bin); err == nil {
			result.Command = resolved
			result.Available = true
			return result
		}
		result.Detail = fmt.Sprintf("binary %q not found", bin)
		return result
	}

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), bin)
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			result.Command = candidate
			result.Available = true
			return result
		}
	}
	if resolved, err := exec.LookPath(bin); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}
	result.Command = bin
	result.Detail = fmt.Sprintf("binary %q not found", bin)
	return result
}

// ProbeVersion runs "<binary> -version" and returns the first output line.
func ProbeVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	line, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	version := strings.TrimSpace(string(line))
	if version == "" {
		return "", fmt.Errorf("%s -version printed nothing", binary)
	}
	return version, nil
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
