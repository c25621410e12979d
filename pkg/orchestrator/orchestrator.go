// Package orchestrator drives the collect, enrich, persist and correlate loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"mini-siem/pkg/correlation"
	"mini-siem/pkg/enrich"
	"mini-siem/pkg/events"
	"mini-siem/pkg/export"
	"mini-siem/pkg/filter"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/metrics"
	"mini-siem/pkg/store"
	"mini-siem/pkg/synthetic"
	"mini-siem/pkg/tail"
)

// Mode is where alerts come from.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSynthetic Mode = "synthetic"
)

const purgeEvery = 24 * time.Hour

// Options wires the loop. Store and Engine are required; everything else is optional.
type Options struct {
	// Reader is the live source. Nil, or a Start failure, selects synthetic mode.
	Reader *tail.Reader
	// ForceSynthetic skips the live source.
	ForceSynthetic bool
	Generator      *synthetic.Generator
	SyntheticBatch int

	Filter     *filter.Filter
	Enricher   *enrich.Enricher
	Store      store.Store
	Engine     *correlation.Engine
	Suppressor *correlation.Suppressor
	Exporter   *export.Exporter

	Interval            time.Duration // default 5s
	ErrorBackoff        time.Duration // default 10s
	CorrelationInterval time.Duration // default 30s
	RecentLimit         int           // default 500
	RetentionDays       int           // 0 disables purge
}

// Status is a point-in-time view of the loop.
type Status struct {
	Mode            Mode      `json:"mode"`
	Running         bool      `json:"running"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	LastTick        time.Time `json:"last_tick,omitempty"`
	LastCorrelation time.Time `json:"last_correlation,omitempty"`
	Ticks           int64     `json:"ticks"`
	AlertsIngested  int64     `json:"alerts_ingested"`
	Detections      int64     `json:"detections"`
}

// Orchestrator owns one background loop. Tick and Correlate are not safe to call
// concurrently with Run; Status is.
type Orchestrator struct {
	opts Options

	mu     sync.Mutex
	status Status

	lastPurge   time.Time
	lastSkipped int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an orchestrator with defaults applied.
func New(opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 10 * time.Second
	}
	if opts.CorrelationInterval <= 0 {
		opts.CorrelationInterval = 30 * time.Second
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 500
	}
	if opts.SyntheticBatch <= 0 {
		opts.SyntheticBatch = 2
	}
	if opts.Generator == nil {
		opts.Generator = synthetic.New(0)
	}
	if opts.Engine == nil {
		opts.Engine = correlation.NewEngine()
	}
	return &Orchestrator{opts: opts, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status returns a copy of the loop status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Engine returns the correlation engine so operators can retune it.
func (o *Orchestrator) Engine() *correlation.Engine { return o.opts.Engine }

// Start selects the mode. A live source that cannot be opened falls back to synthetic
// for the rest of the run.
func (o *Orchestrator) Start() Mode {
	mode := ModeSynthetic
	switch {
	case o.opts.ForceSynthetic:
		logger.Info("orchestrator: synthetic mode forced by config")
	case o.opts.Reader == nil:
		logger.Warn("orchestrator: no live source configured, using synthetic alerts")
	default:
		if err := o.opts.Reader.Start(); err != nil {
			logger.Warn("orchestrator: %v, falling back to synthetic alerts", err)
		} else {
			mode = ModeLive
		}
	}
	now := o.now()
	o.mu.Lock()
	o.status.Mode = mode
	o.status.StartedAt = now
	o.status.LastCorrelation = now
	o.mu.Unlock()
	o.lastPurge = now
	return mode
}

// Run starts the loop and blocks until ctx is cancelled. It never stops on its own.
func (o *Orchestrator) Run(ctx context.Context) error {
	mode := o.Start()
	logger.Info("orchestrator: running in %s mode", mode)
	o.setRunning(true)
	defer o.setRunning(false)
	if o.opts.Reader != nil {
		defer o.opts.Reader.Close()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := o.opts.Interval
		if err := o.safeTick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("orchestrator: tick: %v", err)
			wait = o.opts.ErrorBackoff
		}
		if err := o.sleep(ctx, wait); err != nil {
			logger.Info("orchestrator: stopping")
			return nil
		}
	}
}

// safeTick turns a panic inside a tick into an error so the loop backs off and keeps going.
func (o *Orchestrator) safeTick(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.TickErrors.WithLabelValues("panic").Inc()
			logger.Error("orchestrator: panic in tick: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return o.Tick(ctx)
}

func (o *Orchestrator) setRunning(b bool) {
	o.mu.Lock()
	o.status.Running = b
	o.mu.Unlock()
}

// Tick runs one collect, filter, enrich, persist pass, then correlation if due.
// Per-alert storage failures are logged and returned joined; the rest of the batch still lands.
// Alerts already consumed from the source are persisted even when collection fails part way
// or ctx is cancelled, since the reader will not return them again.
func (o *Orchestrator) Tick(ctx context.Context) error {
	start := o.now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	var errs []error
	mode := o.Status().Mode
	alerts, err := o.collect(ctx, mode)
	if err != nil {
		metrics.TickErrors.WithLabelValues("collect").Inc()
		errs = append(errs, fmt.Errorf("collect: %w", err))
	}

	pctx := context.WithoutCancel(ctx)
	var ingested int64
	for i := range alerts {
		a := &alerts[i]
		if rule, drop := o.opts.Filter.Drop(a); drop {
			metrics.AlertsFiltered.WithLabelValues(rule).Inc()
			logger.Debug("orchestrator: alert %q from %s dropped by rule %s", a.Signature, a.SrcIP, rule)
			continue
		}
		if o.opts.Enricher != nil {
			src, dst := o.opts.Enricher.EnrichAlert(ctx, a)
			observeEnrichment(src)
			observeEnrichment(dst)
		}
		id, err := o.opts.Store.InsertAlert(pctx, a)
		if err != nil {
			metrics.TickErrors.WithLabelValues("persist").Inc()
			errs = append(errs, fmt.Errorf("persist alert from %s: %w", a.SrcIP, err))
			continue
		}
		ingested++
		logger.Debug("alert stored: %s from %s [id=%d severity=%s]", a.Signature, a.SrcIP, id, a.Severity)
	}
	metrics.AlertsIngested.WithLabelValues(string(mode)).Add(float64(ingested))

	now := o.now()
	o.mu.Lock()
	o.status.Ticks++
	o.status.LastTick = now
	o.status.AlertsIngested += ingested
	due := now.Sub(o.status.LastCorrelation) >= o.opts.CorrelationInterval
	o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Join(append(errs, err)...)
	}

	if due {
		if _, err := o.Correlate(ctx); err != nil {
			metrics.TickErrors.WithLabelValues("correlate").Inc()
			errs = append(errs, fmt.Errorf("correlate: %w", err))
		}
	}
	o.maybePurge(ctx, now)
	return errors.Join(errs...)
}

func (o *Orchestrator) collect(ctx context.Context, mode Mode) ([]events.Alert, error) {
	if mode == ModeLive {
		alerts, err := o.opts.Reader.ReadNew(ctx)
		_, skipped, _ := o.opts.Reader.Counters()
		metrics.LinesSkipped.Add(float64(skipped - o.lastSkipped))
		o.lastSkipped = skipped
		return alerts, err
	}
	return o.opts.Generator.Batch(o.opts.SyntheticBatch), nil
}

func observeEnrichment(r enrich.Result) {
	cached := "false"
	if r.Cached {
		cached = "true"
	}
	metrics.Enrichments.WithLabelValues(r.Status.String(), cached).Inc()
	if r.Status == enrich.Degraded {
		logger.Debug("enrich: degraded: %s", r.Reason)
	}
}

// Correlate analyzes the most recent stored alerts and persists what fires.
// The returned detections carry their store IDs.
func (o *Orchestrator) Correlate(ctx context.Context) ([]events.Detection, error) {
	now := o.now()
	o.mu.Lock()
	o.status.LastCorrelation = now
	o.mu.Unlock()

	recent, err := o.opts.Store.RecentAlerts(ctx, o.opts.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	found := o.opts.Engine.Analyze(recent)
	kept := o.opts.Suppressor.Filter(found, now)
	if n := len(found) - len(kept); n > 0 {
		metrics.DetectionsSuppressed.Add(float64(n))
	}

	var errs []error
	stored := make([]events.Detection, 0, len(kept))
	for i := range kept {
		d := kept[i]
		id, err := o.opts.Store.InsertDetection(ctx, &d)
		if err != nil {
			errs = append(errs, fmt.Errorf("store detection %s/%s: %w", d.SrcIP, d.AttackType, err))
			continue
		}
		d.ID = id
		stored = append(stored, d)
		metrics.DetectionsTotal.WithLabelValues(string(d.AttackType)).Inc()
		logDetection(d)
		if err := o.opts.Exporter.Detection(d); err != nil {
			logger.Warn("export detection %d: %v", d.ID, err)
		}
	}

	o.mu.Lock()
	o.status.Detections += int64(len(stored))
	o.mu.Unlock()

	if st, err := o.opts.Store.Stats(ctx); err == nil {
		metrics.StoredAlerts.Set(float64(st.TotalAlerts))
		metrics.BlockedAddresses.Set(float64(st.BlockedCount))
	}
	return stored, errors.Join(errs...)
}

func logDetection(d events.Detection) {
	msg := "CORRELATION DETECTED: %s from %s [id=%d severity=%s alerts=%d signatures=%d]"
	if d.Severity.Rank() >= events.SeverityHigh.Rank() {
		logger.Warn(msg, d.AttackType, d.SrcIP, d.ID, d.Severity, d.AlertCount, d.UniqueSignatureCount)
		return
	}
	logger.Info(msg, d.AttackType, d.SrcIP, d.ID, d.Severity, d.AlertCount, d.UniqueSignatureCount)
}

func (o *Orchestrator) maybePurge(ctx context.Context, now time.Time) {
	if o.opts.RetentionDays <= 0 || now.Sub(o.lastPurge) < purgeEvery {
		return
	}
	o.lastPurge = now
	n, err := o.opts.Store.PurgeOlderThan(ctx, o.opts.RetentionDays)
	if err != nil {
		metrics.TickErrors.WithLabelValues("purge").Inc()
		logger.Error("orchestrator: retention purge: %v", err)
		return
	}
	if n > 0 {
		logger.Info("orchestrator: purged %d alerts older than %d days", n, o.opts.RetentionDays)
	}
}
