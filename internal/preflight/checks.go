package preflight

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"airecorder/internal/config"
	"airecorder/internal/deps"
	"airecorder/internal/fileutil"
)

const mib = 1 << 20

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkAccess(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that path has at least minMiB available.
func CheckFreeSpace(name, path string, minMiB int) Result {
	free, err := fileutil.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%d MiB free", free/mib)
	if minMiB > 0 && free < uint64(minMiB)*mib {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %d MiB", detail, minMiB)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFFmpeg resolves the configured FFmpeg and confirms it runs.
func CheckFFmpeg(ctx context.Context, cfg *config.Config) Result {
	const name = "FFmpeg"
	status := deps.CheckFFmpeg(cfg.FFmpegBinary())
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	version, err := deps.ProbeVersion(ctx, status.Command)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: version}
}

// CheckSystemDeps evaluates all system-level dependencies for the given config.
// Both the daemon status and the CLI doctor command use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	statuses := []deps.Status{deps.CheckFFmpeg(cfg.FFmpegBinary())}
	var requirements []deps.Requirement
	if cfg.Daemon.RevealOnSave {
		if req, ok := revealRequirement(); ok {
			requirements = append(requirements, req)
		}
	}
	if runtime.GOOS == "linux" && usesPulse(cfg) {
		requirements = append(requirements, deps.Requirement{
			Name:        "pactl",
			Command:     "pactl",
			Description: "Lists PulseAudio sources and monitors for device configuration",
			Optional:    true,
		})
	}
	return append(statuses, deps.CheckBinaries(requirements)...)
}

func revealRequirement() (deps.Requirement, bool) {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		return deps.Requirement{
			Name:        "xdg-open",
			Command:     "xdg-open",
			Description: "Opens the output folder after a save",
			Optional:    true,
		}, true
	default:
		return deps.Requirement{}, false
	}
}

func usesPulse(cfg *config.Config) bool {
	if cfg.Recording.Backend != config.BackendFFmpeg {
		return false
	}
	for _, source := range cfg.Recording.Sources {
		if source == config.SourceMicrophone || source == config.SourceSystemAudio {
			return true
		}
	}
	return false
}
