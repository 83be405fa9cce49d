package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"airecorder/internal/fileutil"
	"airecorder/internal/logging"
	"airecorder/internal/services"
)

// Pipeline runs an Encoder under a timeout and publishes its output.
// It never reads, moves, or deletes the spool files it is given.
type Pipeline struct {
	Encoder Encoder
	Timeout time.Duration
	Logger  *slog.Logger
}

type invokeResult struct {
	code int
	err  error
}

// Merge encodes job into a partial file in job.WorkDir and moves it to a
// collision-free name in job.OutputDir. A non-zero exit or empty output is
// reported as services.ErrMergeFailed, an elapsed timeout as
// services.ErrMergeTimedOut.
func (p Pipeline) Merge(ctx context.Context, job Job) (Result, error) {
	logger := logging.NewComponentLogger(p.Logger, "merge")
	if len(job.Inputs) == 0 {
		return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "prepare", job.SessionID, ErrNoInputs)
	}
	if p.Encoder == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "merge", "prepare", "encoder not configured", nil)
	}
	for _, in := range job.Inputs {
		if _, err := os.Stat(in.Path); err != nil {
			return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "prepare", "spool missing", err)
		}
	}

	hasVideo := job.HasVideo()
	ext := job.Params.Extension(hasVideo)
	workDir := job.WorkDir
	if workDir == "" {
		workDir = job.OutputDir
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return Result{}, wrapIO("create output dir", err)
	}
	partial := filepath.Join(workDir, "output.partial"+ext)
	_ = os.Remove(partial)

	runCtx := ctx
	cancel := func() {}
	if p.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
	}
	defer cancel()

	started := time.Now()
	logger.Info("merge started",
		logging.String(logging.FieldEventType, "merge_started"),
		logging.Int("inputs", len(job.Inputs)),
		logging.Bool("video", hasVideo),
	)

	// The encoder may ignore cancellation; the timeout still wins.
	done := make(chan invokeResult, 1)
	go func() {
		code, err := p.Encoder.Invoke(runCtx, job.Inputs, partial, job.Params)
		done <- invokeResult{code: code, err: err}
	}()

	var res invokeResult
	aborted := false
	select {
	case res = <-done:
		aborted = (res.code != 0 || res.err != nil) && runCtx.Err() != nil
	case <-runCtx.Done():
		res = invokeResult{code: -1, err: runCtx.Err()}
		aborted = true
	}

	if aborted {
		_ = os.Remove(partial)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, services.Wrap(services.ErrMergeTimedOut, "merge", "encode",
				fmt.Sprintf("encoder exceeded %s", p.Timeout), runCtx.Err())
		}
		return Result{}, services.Wrap(services.ErrInterrupted, "merge", "encode", "merge cancelled", ctx.Err())
	}
	if res.code != 0 {
		_ = os.Remove(partial)
		return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "encode",
			fmt.Sprintf("encoder exited with code %d", res.code), res.err)
	}
	if res.err != nil {
		_ = os.Remove(partial)
		return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "encode", "encoder did not run", res.err)
	}

	info, err := os.Stat(partial)
	if err != nil {
		return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "verify", "encoder produced no output", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(partial)
		return Result{}, services.Wrap(services.ErrMergeFailed, "merge", "verify", "encoder produced empty output", nil)
	}

	target, err := fileutil.UniquePath(job.OutputDir, OutputBase(job.StartedAt, hasVideo), ext)
	if err != nil {
		_ = os.Remove(partial)
		return Result{}, wrapIO("choose output name", err)
	}
	if err := fileutil.MoveFile(partial, target); err != nil {
		_ = os.Remove(partial)
		return Result{}, wrapIO("publish output", err)
	}

	result := Result{OutputPath: target, Bytes: info.Size(), Elapsed: time.Since(started)}
	logger.Info("merge completed",
		logging.String(logging.FieldEventType, "merge_completed"),
		logging.String("output", target),
		logging.Int64("bytes", result.Bytes),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func wrapIO(op string, err error) error {
	if fileutil.IsDiskFull(err) {
		return services.Wrap(services.ErrDiskFull, "merge", op, "output volume full", err)
	}
	return services.Wrap(services.ErrMergeFailed, "merge", op, "", err)
}
