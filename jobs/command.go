package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/scrape"
)

// ExitStall is the exit code of a scrape process aborted by its watchdog.
const ExitStall = 3

type outputSink interface {
	Output(line string)
}

// CommandTask runs an external process and turns its progress lines into
// events. Combined stdout and stderr is forwarded to the reporter's Output
// method when it has one. Exit code ExitStall maps to
// scrape.ErrStallDetected.
func CommandTask(name string, args ...string) Task {
	return func(ctx context.Context, rep progress.Reporter) error {
		cmd := exec.CommandContext(ctx, name, args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("jobs: pipe: %w", err)
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("jobs: start %s: %w", name, err)
		}

		sink, _ := rep.(outputSink)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if sink != nil {
				sink.Output(line)
			}
			if e, ok := progress.ParseLine(line); ok {
				rep.Report(e)
			}
		}
		scanErr := sc.Err()
		if scanErr != nil {
			io.Copy(io.Discard, stdout)
		}

		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitStall {
				return fmt.Errorf("jobs: %s: %w", name, scrape.ErrStallDetected)
			}
			return fmt.Errorf("jobs: %s: %w", name, err)
		}
		if scanErr != nil {
			return fmt.Errorf("jobs: read output: %w", scanErr)
		}
		return nil
	}
}
