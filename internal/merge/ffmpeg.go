package merge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"airecorder/internal/logging"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the FFmpeg encoder.
type Option func(*FFmpegEncoder)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(e *FFmpegEncoder) {
		if exec != nil {
			e.exec = exec
		}
	}
}

// WithProgress registers a callback for encoder progress updates.
func WithProgress(fn func(Progress)) Option {
	return func(e *FFmpegEncoder) {
		e.progress = fn
	}
}

// Progress is parsed from FFmpeg's -progress output.
type Progress struct {
	OutTime time.Duration
	Speed   string
	Done    bool
}

// FFmpegEncoder runs FFmpeg as an opaque subprocess.
type FFmpegEncoder struct {
	binary   string
	exec     Executor
	logger   *slog.Logger
	progress func(Progress)
}

// NewFFmpegEncoder constructs an encoder invoking binary.
func NewFFmpegEncoder(binary string, logger *slog.Logger, opts ...Option) *FFmpegEncoder {
	e := &FFmpegEncoder{
		binary: strings.TrimSpace(binary),
		exec:   commandExecutor{},
		logger: logging.NewComponentLogger(logger, "encoder"),
	}
	if e.binary == "" {
		e.binary = "ffmpeg"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// exitCoder matches *exec.ExitError and test doubles.
type exitCoder interface {
	ExitCode() int
}

// Invoke runs FFmpeg and returns its exit code.
func (e *FFmpegEncoder) Invoke(ctx context.Context, inputs []Input, output string, params Params) (int, error) {
	args, err := BuildArgs(inputs, output, params)
	if err != nil {
		return -1, err
	}
	e.logger.Debug("ffmpeg merge starting", logging.String("binary", e.binary), logging.String("args", strings.Join(args, " ")))

	var (
		mu      sync.Mutex
		tail    []string
		current Progress
	)
	// Executors may call onOutput from one goroutine per stream.
	onOutput := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		key, value, ok := strings.Cut(line, "=")
		if ok && isProgressKey(key) {
			if update, emit := current.apply(key, value); emit && e.progress != nil {
				e.progress(update)
			}
			return
		}
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
	}

	runErr := e.exec.Run(ctx, e.binary, args, onOutput)
	if runErr == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var coder exitCoder
	if errors.As(runErr, &coder) && coder.ExitCode() > 0 {
		mu.Lock()
		detail := strings.Join(tail, "; ")
		mu.Unlock()
		if detail == "" {
			return coder.ExitCode(), nil
		}
		return coder.ExitCode(), fmt.Errorf("ffmpeg: %s", detail)
	}
	return -1, runErr
}

func isProgressKey(key string) bool {
	switch key {
	case "frame", "fps", "stream_0_0_q", "bitrate", "total_size", "out_time_us", "out_time_ms",
		"out_time", "dup_frames", "drop_frames", "speed", "progress":
		return true
	}
	return false
}

// apply folds one progress line into p and reports whether a block ended.
func (p *Progress) apply(key, value string) (Progress, bool) {
	switch key {
	case "out_time_us", "out_time_ms":
		// FFmpeg reports microseconds under both keys.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		p.Speed = strings.TrimSpace(value)
	case "progress":
		p.Done = value == "end"
		return *p, true
	}
	return Progress{}, false
}

// BuildArgs returns the deterministic FFmpeg argument list for a merge.
//
// Raw PCM spools are declared with -f s16le -ar -ac; screen spools are MPEG-TS.
// Two audio inputs are mixed with amix. Video output is H.264 + AAC in MP4
// trimmed to the shortest stream; audio-only output uses the configured
// audio container and codec.
func BuildArgs(inputs []Input, output string, params Params) ([]string, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	args := []string{"-y", "-nostdin", "-hide_banner", "-loglevel", "error", "-progress", "pipe:1", "-nostats"}

	video := -1
	var audio []int
	for i, in := range inputs {
		if in.Format.IsPCM() {
			args = append(args,
				"-f", "s16le",
				"-ar", strconv.Itoa(in.Format.SampleRate),
				"-ac", strconv.Itoa(in.Format.Channels),
			)
			audio = append(audio, i)
		} else {
			if video >= 0 {
				return nil, errors.New("more than one video input")
			}
			args = append(args, "-f", "mpegts")
			video = i
		}
		if in.Offset > 0 {
			args = append(args, "-itsoffset", formatSeconds(in.Offset))
		}
		args = append(args, "-i", in.Path)
	}
	if len(audio) > 2 {
		return nil, fmt.Errorf("%d audio inputs; at most 2 supported", len(audio))
	}

	var audioMap string
	switch len(audio) {
	case 1:
		audioMap = strconv.Itoa(audio[0]) + ":a:0"
	case 2:
		args = append(args, "-filter_complex",
			fmt.Sprintf("[%d:a][%d:a]amix=inputs=2:duration=longest:dropout_transition=0[a]", audio[0], audio[1]))
		audioMap = "[a]"
	}

	if video >= 0 {
		args = append(args, "-map", strconv.Itoa(video)+":v:0")
		if audioMap != "" {
			args = append(args, "-map", audioMap)
		}
		args = append(args,
			"-c:v", orDefault(params.VideoCodec, "libx264"),
			"-crf", strconv.Itoa(params.VideoCRF),
			"-preset", orDefault(params.VideoPreset, "veryfast"),
			"-pix_fmt", "yuv420p",
		)
		if audioMap != "" {
			args = append(args, "-c:a", "aac", "-b:a", orDefault(params.AudioBitrate, "128k"), "-shortest")
		} else {
			args = append(args, "-an")
		}
		args = append(args, "-movflags", "+faststart", "-f", "mp4", output)
		return args, nil
	}

	args = append(args,
		"-map", audioMap,
		"-codec:a", orDefault(params.AudioCodec, "libmp3lame"),
		"-b:a", orDefault(params.AudioBitrate, "128k"),
		"-f", muxerFor(params.AudioContainer),
		output,
	)
	return args, nil
}

func muxerFor(container string) string {
	switch container {
	case "m4a":
		return "ipod"
	case "", "mp3":
		return "mp3"
	default:
		return container
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
