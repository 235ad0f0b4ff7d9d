// Package runner drives the controller through trigger cycles and writes one
// JSON document per successful cycle.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/sznuper/cvtrigger/internal/config"
	"github.com/sznuper/cvtrigger/internal/device"
	"github.com/sznuper/cvtrigger/internal/metrics"
	"github.com/sznuper/cvtrigger/internal/notify"
	"github.com/sznuper/cvtrigger/internal/result"
	"github.com/sznuper/cvtrigger/internal/schedule"
	"github.com/sznuper/cvtrigger/internal/trigger"
)

const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultResultTimeout = 5 * time.Second

	resultLogSetting = 0
)

// Options tune a Runner. Zero values pick the defaults.
type Options struct {
	// Stdout receives one JSON line per successful cycle. Defaults to
	// os.Stdout.
	Stdout io.Writer
	// Pacer paces repeated cycles. Defaults to the config's schedule, or its
	// repeat interval.
	Pacer   schedule.Pacer
	Metrics *metrics.Metrics
	// DryRunNotify validates notification targets without sending.
	DryRunNotify bool
	// OnCycle is called after every cycle, successful or not.
	OnCycle func(CycleResult)

	PollInterval  time.Duration
	ResultTimeout time.Duration
}

// Runner owns the controller session for the lifetime of the process.
type Runner struct {
	cfg     *config.Config
	client  device.Client
	logger  *slog.Logger
	session *trigger.Session
	encoder result.Encoder

	out           io.Writer
	pacer         schedule.Pacer
	metrics       *metrics.Metrics
	dryRunNotify  bool
	onCycle       func(CycleResult)
	pollInterval  time.Duration
	resultTimeout time.Duration
}

// New creates a Runner for cfg talking through client.
func New(cfg *config.Config, client device.Client, logger *slog.Logger, opts Options) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		session: trigger.NewSession(),
		encoder: result.Encoder{
			Program:     cfg.Program,
			InlineImage: cfg.InlineImage,
		},
		out:           opts.Stdout,
		pacer:         opts.Pacer,
		metrics:       opts.Metrics,
		dryRunNotify:  opts.DryRunNotify,
		onCycle:       opts.OnCycle,
		pollInterval:  opts.PollInterval,
		resultTimeout: opts.ResultTimeout,
	}

	if r.out == nil {
		r.out = os.Stdout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.resultTimeout <= 0 {
		r.resultTimeout = DefaultResultTimeout
	}
	if r.pacer == nil {
		pacer, err := pacerFor(cfg)
		if err != nil {
			return nil, &Error{Kind: KindInvalidArguments, Err: err}
		}
		r.pacer = pacer
	}
	return r, nil
}

func pacerFor(cfg *config.Config) (schedule.Pacer, error) {
	if cfg.Schedule != "" {
		return schedule.NewCron(cfg.Schedule)
	}
	return schedule.Interval(cfg.RepeatInterval()), nil
}

// Open recreates the output directory, connects and starts both logs. Every
// failure is fatal; call Close regardless to release what was set up.
func (r *Runner) Open(ctx context.Context) error {
	dir := r.cfg.OutputDir
	r.logger.Debug("preparing output directory", "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return Errorf(KindOutputDirectorySetup, "removing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Errorf(KindOutputDirectorySetup, "creating %s: %w", dir, err)
	}

	r.client.OnResultLog(func(ev device.ResultEvent) {
		r.logger.Debug("result log written", "path", ev.Path, "status", ev.Status)
		r.session.MarkResult(ev.Path)
	})
	r.client.OnImageLog(func(ev device.ImageEvent) {
		r.logger.Debug("image log written", "count", ev.Count, "status", ev.Status)
		r.session.MarkImage()
	})

	r.logger.Info("connecting", "addr", r.cfg.Address())
	if err := r.dial(ctx); err != nil {
		return err
	}

	if err := r.client.StartResultLog(resultLogSetting, dir); err != nil {
		return Errorf(KindResultLogStart, "starting result log: %w", err)
	}
	if err := r.client.StartImageLog(dir); err != nil {
		return Errorf(KindImageLogStart, "starting image log: %w", err)
	}

	r.logger.Info("controller ready", "output_dir", dir)
	return nil
}

// dial connects, with retries when configured, and classifies the failure.
func (r *Runner) dial(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCancelled, Err: fmt.Errorf("connecting: %w", ctx.Err())}
		}
		return Errorf(KindConnection, "connecting to %s: %w", r.cfg.Address(), err)
	}
	return nil
}

func (r *Runner) connect(ctx context.Context) error {
	limit := r.cfg.ConnectRetryTimeout()
	if limit <= 0 {
		return r.client.Connect(ctx)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = limit

	attempt := 0
	operation := func() error {
		attempt++
		err := r.client.Connect(ctx)
		if err != nil {
			r.logger.Warn("connect failed, will retry", "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}

// Close stops the logs that were started, then disconnects. The logs are
// stopped even when the connection was already lost.
func (r *Runner) Close() error {
	var errs []error
	if r.client.ResultLogStarted() {
		if err := r.client.StopResultLog(); err != nil {
			errs = append(errs, fmt.Errorf("stopping result log: %w", err))
		}
	}
	if r.client.ImageLogStarted() {
		if err := r.client.StopImageLog(); err != nil {
			errs = append(errs, fmt.Errorf("stopping image log: %w", err))
		}
	}
	if r.client.Connected() {
		if err := r.client.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnecting: %w", err))
		}
		r.logger.Info("disconnected")
	}
	return errors.Join(errs...)
}

// Start opens the runner and runs it. Cancelling a repeating run ends it
// cleanly, also while it is still connecting.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.Open(ctx); err != nil {
		if KindOf(err) == KindCancelled && r.cfg.Repeats() {
			r.logger.Info("stopping", "reason", "cancelled")
			return nil
		}
		return err
	}
	return r.Run(ctx)
}

// Run executes one cycle, or repeats cycles until ctx is cancelled when the
// config repeats. In repeat mode, command failures and result timeouts are
// reported and the next cycle follows; cancellation ends the run cleanly.
func (r *Runner) Run(ctx context.Context) error {
	repeats := r.cfg.Repeats()
	if repeats {
		r.logger.Info("repeating cycles", "pace", r.pacer)
	}

	for {
		res := r.RunCycle(ctx)
		if res.Err != nil {
			kind := res.Kind()
			switch {
			case kind == KindCancelled && repeats:
				r.logger.Info("stopping", "reason", "cancelled")
				return nil
			case repeats && kind.CycleFatal():
				r.logger.Warn("continuing with next cycle", "cycle", res.ID, "code", kind.Code())
			default:
				return res.Err
			}
		}

		if !repeats {
			return nil
		}
		if err := r.pacer.Wait(ctx); err != nil {
			r.logger.Info("stopping", "reason", "cancelled")
			return nil
		}
	}
}

// RunCycle executes a single trigger cycle and writes its JSON document.
func (r *Runner) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	id := uuid.NewString()
	log := r.logger.With("cycle", id)

	res := CycleResult{
		ID:      id,
		Program: r.cfg.Program,
		DryRun:  r.dryRunNotify,
	}

	log.Info("starting cycle", "program", r.cfg.Program)
	c := &cycle{id: id, log: log}
	if err := r.drive(ctx, c); err != nil {
		res.Err = err
		res.Stage = c.state.String()
		log.Error("cycle failed", "state", c.state, "error", err, "code", KindOf(err).Code())
	} else {
		res.ResultPath = c.resultPath
		doc, err := r.output(c.resultPath)
		if err != nil {
			res.Err = err
			res.Stage = "output"
			log.Error("result output failed", "error", err, "path", c.resultPath)
		} else {
			res.Document = doc
			r.metrics.ObservePass(doc.Pass())
			res.Notified = r.notify(log, res)
		}
	}

	res.Duration = time.Since(start)
	r.metrics.ObserveCycle(res.Outcome(), res.Duration)
	if res.Err == nil {
		log.Info("cycle completed", "duration", res.Duration)
	}
	if r.onCycle != nil {
		r.onCycle(res)
	}
	return res
}

func (r *Runner) output(path string) (*result.Document, error) {
	doc, err := r.encoder.EncodeFile(path)
	if err != nil {
		return nil, &Error{Kind: KindResultOutput, Err: err}
	}

	line, err := doc.MarshalJSON()
	if err != nil {
		return nil, Errorf(KindResultOutput, "encoding result: %w", err)
	}
	if _, err := r.out.Write(append(line, '\n')); err != nil {
		return nil, Errorf(KindResultOutput, "writing result: %w", err)
	}
	return doc, nil
}

// notify renders and sends the configured notifications. Failures are
// logged and never affect the cycle outcome.
func (r *Runner) notify(log *slog.Logger, res CycleResult) []string {
	if len(r.cfg.Notify) == 0 {
		return nil
	}

	data := notify.BuildTemplateData(res.Document.Map(), res.ID, r.cfg.Program, r.cfg.Host, res.Document.Pass())
	targets, err := notify.ResolveTargets(mapNotifyRefs(r.cfg.Notify), data)
	if err != nil {
		log.Warn("notification template failed", "error", err)
		return nil
	}

	var notified []string
	for _, t := range targets {
		if r.dryRunNotify {
			if err := notify.Validate(t); err != nil {
				log.Warn("notify validation failed (dry-run)", "service", t.Service, "error", err)
				continue
			}
			notified = append(notified, t.Service)
			log.Debug("would notify (dry-run)", "service", t.Service, "message", t.Message)
			continue
		}

		if err := notify.Send(t); err != nil {
			log.Warn("notify failed", "service", t.Service, "error", err)
			continue
		}
		notified = append(notified, t.Service)
		log.Debug("notification sent", "service", t.Service)
	}
	return notified
}

func mapNotifyRefs(targets []config.NotifyTarget) []notify.Ref {
	refs := make([]notify.Ref, len(targets))
	for i, t := range targets {
		refs[i] = notify.Ref{URL: t.URL, Template: t.Template}
	}
	return refs
}
