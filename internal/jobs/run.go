package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"tickd/pkg/logx"
)

// Command output kept for logging; anything past this is cut.
const maxOutput = 4 << 10

func (r *Registry) execute(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindHeartbeat:
		r.log.Info("heartbeat", logx.String("job", job.Name))
		return nil
	case KindCommand:
		return r.runCommand(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (r *Registry) runCommand(ctx context.Context, job Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, job.Command[0], job.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if len(out) > maxOutput {
		out = append(out[:maxOutput:maxOutput], "... (truncated)"...)
	}
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v", timeout)
		}
		if s := strings.TrimSpace(string(out)); s != "" {
			r.log.Warn("job output", logx.String("job", job.Name), logx.String("output", s))
		}
		return err
	}
	if s := strings.TrimSpace(string(out)); s != "" {
		r.log.Debug("job output", logx.String("job", job.Name), logx.String("output", s))
	}
	return nil
}
