package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sznuper/cvtrigger/internal/trigger"
)

// Controller replies and commands.
const (
	cmdReadMode     = "RM"
	cmdRunMode      = "R0"
	cmdReset        = "RS"
	cmdClearError   = "CE"
	cmdReadProgram  = "PR"
	cmdWriteProgram = "PW"
	cmdTrigger      = "TA"

	replySetupMode = "RM,0"
)

// cycle is the mutable state of one pass through the state machine.
type cycle struct {
	id         string
	log        *slog.Logger
	state      State
	resultPath string
}

// drive walks the state machine from CheckingMode until it terminates. On
// error c.state is left at the state that failed. A connection dropped by an
// earlier cycle is reopened first.
func (r *Runner) drive(ctx context.Context, c *cycle) error {
	c.state = StateCheckingMode
	if !r.client.Connected() {
		c.log.Warn("not connected, reconnecting", "addr", r.cfg.Address())
		if err := r.dial(ctx); err != nil {
			return err
		}
	}

	for ; !c.state.Terminal(); c.state = next(c.state, r.cfg.Debug) {
		c.log.Debug("entering state", "state", c.state)
		if err := r.step(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) step(ctx context.Context, c *cycle) error {
	switch c.state {
	case StateCheckingMode:
		return r.checkMode(ctx, c.log)
	case StateResetting, StateFinalReset:
		return r.reset(ctx, c.log)
	case StateSelectingProgram:
		return r.selectProgram(ctx, c.log)
	case StateTriggering:
		return r.trigger(ctx, c.log)
	case StateAwaitingResult:
		path, err := r.await(ctx, c.log)
		if err != nil {
			return err
		}
		c.resultPath = path
		return nil
	default:
		return fmt.Errorf("no action for state %s", c.state)
	}
}

func (r *Runner) checkMode(ctx context.Context, log *slog.Logger) error {
	reply, err := r.execute(ctx, cmdReadMode)
	if err != nil {
		return err
	}
	if reply != replySetupMode {
		return nil
	}
	log.Info("controller in setup mode, switching to run mode")
	_, err = r.execute(ctx, cmdRunMode)
	return err
}

func (r *Runner) reset(ctx context.Context, log *slog.Logger) error {
	command := cmdClearError
	if r.cfg.Reset {
		command = cmdReset
	}
	log.Debug("resetting controller", "command", command)
	_, err := r.execute(ctx, command)
	return err
}

func (r *Runner) selectProgram(ctx context.Context, log *slog.Logger) error {
	program := fmt.Sprintf("%03d", r.cfg.Program)

	reply, err := r.execute(ctx, cmdReadProgram)
	if err != nil {
		return err
	}
	if reply == cmdReadProgram+",1,"+program {
		log.Debug("program already selected", "program", r.cfg.Program)
		return nil
	}

	log.Info("selecting program", "program", r.cfg.Program, "current", reply)
	_, err = r.execute(ctx, cmdWriteProgram+",1,"+program)
	return err
}

func (r *Runner) trigger(ctx context.Context, log *slog.Logger) error {
	r.session.Arm(time.Now())
	log.Info("triggering")
	_, err := r.execute(ctx, cmdTrigger)
	return err
}

// await polls the session until both notifications have arrived, the result
// timeout has passed, or ctx is cancelled. The timeout counts from the TA
// reply, so a slow round trip does not shorten the wait. Notifications that
// arrived during the round trip still count since the session was armed
// before TA was sent. A session change wakes the loop early.
func (r *Runner) await(ctx context.Context, log *slog.Logger) (string, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(r.resultTimeout)
	var last trigger.State

	for {
		st := r.session.Snapshot()
		r.progress(log, last, st)
		last = st

		if st.Complete() {
			return st.ResultPath, nil
		}
		if !time.Now().Before(deadline) {
			return "", Errorf(KindResultNotAvailable, "no result and image within %s (result: %t, image: %t)",
				r.resultTimeout, st.ResultAvailable, st.ImageAvailable)
		}

		select {
		case <-ctx.Done():
			return "", &Error{Kind: KindCancelled, Err: fmt.Errorf("waiting for result: %w", ctx.Err())}
		case <-ticker.C:
		case <-r.session.Changed():
		}
	}
}

func (r *Runner) progress(log *slog.Logger, last, st trigger.State) {
	if st.ResultAvailable != last.ResultAvailable || st.ImageAvailable != last.ImageAvailable {
		if st.ResultAvailable && !last.ResultAvailable {
			log.Info("result available", "path", st.ResultPath)
		}
		if st.ImageAvailable && !last.ImageAvailable {
			log.Info("image available")
		}
		return
	}
	log.Debug("waiting for result", "result", availability(st.ResultAvailable), "image", availability(st.ImageAvailable))
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "not available"
}

// execute sends one command. Nothing is sent once ctx is cancelled. A
// non-zero reply status and a transport error are both CommandFailure.
func (r *Runner) execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Kind: KindCancelled, Err: fmt.Errorf("before %s: %w", command, err)}
	}

	reply, err := r.client.Execute(ctx, command)
	if err != nil {
		r.metrics.ObserveCommand(command, -1)
		if ctx.Err() != nil {
			return "", &Error{Kind: KindCancelled, Err: fmt.Errorf("during %s: %w", command, ctx.Err())}
		}
		return "", &Error{Kind: KindCommand, Err: &CommandError{Command: command, Status: -1, Err: err}}
	}

	r.metrics.ObserveCommand(command, reply.Status)
	r.logger.Debug("command executed", "command", command, "status", reply.Status, "reply", reply.Text)

	if reply.Status != 0 {
		return "", &Error{Kind: KindCommand, Err: &CommandError{
			Command:  command,
			Status:   reply.Status,
			Response: reply.Text,
		}}
	}
	return reply.Text, nil
}
