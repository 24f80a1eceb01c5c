// Package tracker operates the tracking state machine and owns the
// lifecycle of every monitoring loop.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/kballard/go-shellquote"

	"github.com/vantage-agent/vantage/anticheat"
	"github.com/vantage-agent/vantage/detect"
	"github.com/vantage-agent/vantage/idle"
	"github.com/vantage-agent/vantage/internal/config"
	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/probe"
	"github.com/vantage-agent/vantage/queue"
	"github.com/vantage-agent/vantage/screenshot"
	"github.com/vantage-agent/vantage/store"
)

const (
	// finalFlushTimeout bounds the best-effort queue flush performed by
	// Stop.
	finalFlushTimeout = 15 * time.Second

	// alertCmdTimeout bounds the operator-configured alert hook so a
	// wedged command cannot stall alert delivery.
	alertCmdTimeout = 10 * time.Second
)

// RemoteStore is the full remote surface the tracker needs: bulk
// observation uploads plus session time-log registration.
type RemoteStore interface {
	queue.RemoteStore

	StartTimeLog(ctx context.Context, sess *models.Session) error
	StopTimeLog(ctx context.Context, sess *models.Session) error
	CloseStale(ctx context.Context, userID string) error
}

// Collaborators are the OS-facing capabilities injected into the tracker.
// All of them are capability-gated probes that may fail or be denied.
type Collaborators struct {
	Foreground  probe.ForegroundProbe
	URLs        probe.URLProbe
	Permissions probe.PermissionChecker
	Idle        probe.IdleProbe
	Capture     screenshot.ScreenCapture
	Uploader    screenshot.Uploader
}

// Tracker is the top-level orchestrator. All state transitions go through
// it; collaborator failures degrade the affected sub-loop without ever
// unwinding into the state machine itself.
type Tracker struct {
	cfg    *config.Config
	db     store.DB
	remote RemoteStore
	collab Collaborators
	now    func() time.Time

	mu             sync.Mutex
	starting       bool
	state          State
	sess           *models.Session
	pauseReason    PauseReason
	suspendedAt    time.Time
	probeGate      *probe.Gate
	q              *queue.Queue
	scorer         *anticheat.Scorer
	detector       *detect.Loop
	shots          *screenshot.Scheduler
	idleMon        *idle.Monitor
	syncWorker     *queue.Worker
	captureDegrade bool
	cancelRun      context.CancelFunc
	cancelActive   context.CancelFunc
	wg             sync.WaitGroup

	subMu sync.Mutex
	subs  []chan Event
}

// New returns a stopped tracker.
func New(
	cfg *config.Config,
	db store.DB,
	remote RemoteStore,
	collab Collaborators,
) *Tracker {
	return &Tracker{
		cfg:    cfg,
		db:     db,
		remote: remote,
		collab: collab,
		state:  StateStopped,
		now:    time.Now,
	}
}

// Start opens a session for the project and starts every monitoring loop.
// A reconciliation pass first force-closes any stale open session left by
// a crashed agent.
func (t *Tracker) Start(projectID string) error {
	// Claim the start slot before releasing the lock for reconciliation,
	// so concurrent starts cannot both pass the stopped check.
	t.mu.Lock()
	if t.state != StateStopped || t.starting {
		t.mu.Unlock()
		return errAlreadyTracking
	}
	t.starting = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.starting = false
		t.mu.Unlock()
	}()

	t.reconcile()

	now := t.now()
	sess := &models.Session{
		ID:        fmt.Sprintf("%s-%d", t.cfg.Settings.UserID, now.UnixNano()),
		UserID:    t.cfg.Settings.UserID,
		ProjectID: projectID,
		StartTime: now,
		Status:    models.SessionActive,
	}

	if err := t.db.SaveSession(sess); err != nil {
		return fmt.Errorf("journaling session: %w", err)
	}

	if err := t.registerStart(sess); err != nil {
		// The session is journaled; registration is retried implicitly
		// by the stale-session reconciliation of a future start.
		slog.Warn("session registration failed", slog.Any("error", err))
	}

	runCtx, cancelRun := context.WithCancel(context.Background())

	t.mu.Lock()
	t.sess = sess
	t.state = StateActive
	t.pauseReason = ""
	t.captureDegrade = false
	t.cancelRun = cancelRun

	t.q = queue.New(t.cfg.Queue.MaxLen, t.cfg.Queue.TrimTo)
	t.scorer = anticheat.NewScorer(anticheat.Thresholds{
		Window:           t.cfg.AntiCheat.Window,
		MinMouseDistance: t.cfg.AntiCheat.MinMouseDistance,
		KeyDiversity:     t.cfg.AntiCheat.KeyDiversity,
		MaxAlerts:        t.cfg.AntiCheat.MaxAlerts,
	}, t.handleAlert)

	t.probeGate = probe.NewGate(
		t.collab.Foreground,
		t.collab.Permissions,
		t.cfg.Probe.MaxFailures,
		t.handleProbeDisabled,
	)

	t.detector = detect.New(
		t.probeGate,
		t.collab.URLs,
		t.q,
		t.cfg.IsBrowser,
		t.cfg.Tracking.DetectInterval,
		sess.UserID,
		sess.ID,
	)

	t.shots = screenshot.New(
		t.collab.Capture,
		t.collab.Uploader,
		t.q,
		t.detector.Current,
		screenshot.Options{
			MinGap:         t.cfg.Screenshots.MinGap,
			MaxGap:         t.cfg.Screenshots.MaxGap,
			MandatoryGap:   t.cfg.Screenshots.MandatoryGap,
			CaptureTimeout: t.cfg.Screenshots.CaptureTimeout,
			MaxFailures:    t.cfg.Screenshots.MaxFailures,
		},
		now.UnixNano(),
		t.scorer.CaptureWindow,
		t.handleCaptureDegraded,
	)

	t.idleMon = idle.New(
		t.scorer.Counters.LastActivity,
		t.q,
		t.cfg.Idle.Threshold,
		t.cfg.Idle.CheckInterval,
		t.handleIdleStart,
		t.handleIdleEnd,
		t.pollTick,
		t.now,
	)

	t.syncWorker = queue.NewWorker(
		t.remote,
		t.q,
		t.cfg.Sync.Interval,
		t.cfg.Sync.WarnDepth,
	)
	t.mu.Unlock()

	// Loops that outlive pauses: idle watch, batch sync, permission
	// re-check.
	t.goRun(func() { t.idleMon.Run(runCtx) })
	t.goRun(func() { t.syncWorker.Run(runCtx) })
	t.goRun(func() { t.recheckLoop(runCtx) })

	t.startActiveLoops()

	slog.Info(
		"tracking started",
		slog.String("session_id", sess.ID),
		slog.String("project_id", projectID),
	)

	t.publish(Event{Type: EventStateChange, State: StateActive, At: now})
	t.writeStatus()

	return nil
}

// Pause halts the detection and screenshot cadence while keeping the
// session open.
func (t *Tracker) Pause(reason PauseReason) error {
	t.mu.Lock()

	switch t.state {
	case StateActive:
	case StateStopped:
		t.mu.Unlock()
		return errNotTracking
	default:
		state := t.state
		t.mu.Unlock()

		return errInvalidTransition.Fmt("pause", state)
	}

	t.stopActiveLoopsLocked()
	t.state = StatePaused
	t.pauseReason = reason
	t.sess.Status = models.SessionPaused
	sess := *t.sess
	t.mu.Unlock()

	if err := t.db.SaveSession(&sess); err != nil {
		slog.Warn("journaling paused session failed", slog.Any("error", err))
	}

	slog.Info("tracking paused", slog.String("reason", string(reason)))

	t.publish(Event{
		Type:   EventStateChange,
		State:  StatePaused,
		Reason: reason,
		At:     t.now(),
	})
	t.writeStatus()

	return nil
}

// Resume restarts the paused cadence. When the pause was caused by an
// idle timeout, confirmed must be true: the operator has to acknowledge
// that the idle gap is not active time.
func (t *Tracker) Resume(confirmed bool) error {
	t.mu.Lock()

	switch t.state {
	case StatePaused:
	case StateStopped:
		t.mu.Unlock()
		return errNotTracking
	default:
		state := t.state
		t.mu.Unlock()

		return errInvalidTransition.Fmt("resume", state)
	}

	if t.pauseReason.requiresConfirmation() && !confirmed {
		reason := t.pauseReason
		t.mu.Unlock()

		return errResumeConfirmation.Fmt(reason)
	}

	t.state = StateActive
	t.pauseReason = ""
	t.sess.Status = models.SessionActive
	sess := *t.sess
	t.mu.Unlock()

	if err := t.db.SaveSession(&sess); err != nil {
		slog.Warn("journaling resumed session failed", slog.Any("error", err))
	}

	t.startActiveLoops()

	slog.Info("tracking resumed")

	t.publish(Event{Type: EventStateChange, State: StateActive, At: t.now()})
	t.writeStatus()

	return nil
}

// Stop flushes the queue one final time (best effort, bounded wait),
// closes the session, and returns the tracker to the stopped state.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if t.state == StateStopped {
		t.mu.Unlock()
		return errNotTracking
	}

	t.stopActiveLoopsLocked()

	cancelRun := t.cancelRun
	t.cancelRun = nil
	sess := t.sess
	worker := t.syncWorker
	t.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}

	t.wg.Wait()

	flushCtx, cancel := context.WithTimeout(
		context.Background(),
		finalFlushTimeout,
	)
	defer cancel()

	worker.Flush(flushCtx)

	end := t.now()
	sess.EndTime = &end
	sess.Status = models.SessionCompleted

	if err := t.registerStop(sess); err != nil {
		// Keep the journal entry; the next start reconciles it.
		slog.Warn("closing session remotely failed", slog.Any("error", err))

		if err := t.db.SaveSession(sess); err != nil {
			slog.Warn("journaling closed session failed", slog.Any("error", err))
		}
	} else if err := t.db.DeleteSession(sess); err != nil {
		slog.Warn("removing journaled session failed", slog.Any("error", err))
	}

	t.mu.Lock()
	t.state = StateStopped
	t.sess = nil
	t.pauseReason = ""
	t.mu.Unlock()

	slog.Info("tracking stopped", slog.String("session_id", sess.ID))

	t.publish(Event{Type: EventStateChange, State: StateStopped, At: end})
	t.removeStatus()

	return nil
}

// HandleSuspend reacts to a device sleep or lid-close signal. Tracking
// cadence stops; the session stays open until HandleResume decides its
// fate.
func (t *Tracker) HandleSuspend() {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}

	t.stopActiveLoopsLocked()
	t.state = StateSuspended
	t.suspendedAt = t.now()
	t.mu.Unlock()

	slog.Info("system suspended, tracking cadence halted")

	t.publish(Event{Type: EventStateChange, State: StateSuspended, At: t.now()})
	t.writeStatus()
}

// HandleResume reacts to the device waking. An absence longer than the
// configured ceiling stops tracking entirely instead of resuming a
// silently inactive session.
func (t *Tracker) HandleResume() {
	t.mu.Lock()
	if t.state != StateSuspended {
		t.mu.Unlock()
		return
	}

	away := t.now().Sub(t.suspendedAt)
	ceiling := t.cfg.Settings.SuspendCeiling
	t.mu.Unlock()

	if away > ceiling {
		slog.Info(
			"suspend exceeded ceiling, stopping tracking",
			slog.Duration("away", away),
			slog.Duration("ceiling", ceiling),
		)

		if err := t.Stop(); err != nil {
			slog.Warn("stop after suspend ceiling failed", slog.Any("error", err))
		}

		return
	}

	t.mu.Lock()
	t.state = StateActive
	t.mu.Unlock()

	t.startActiveLoops()

	slog.Info("system resumed, tracking cadence restarted")

	t.publish(Event{Type: EventStateChange, State: StateActive, At: t.now()})
	t.writeStatus()
}

// HandleSleepGap reacts to a detected wall-clock jump. The machine was
// asleep for roughly gap, so the tracker treats it as a suspend that has
// already ended and lets the resume path apply the absence ceiling.
func (t *Tracker) HandleSleepGap(gap time.Duration) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}

	t.stopActiveLoopsLocked()
	t.state = StateSuspended
	t.suspendedAt = t.now().Add(-gap)
	t.mu.Unlock()

	slog.Info("wall-clock jump detected", slog.Duration("gap", gap))

	t.HandleResume()
}

// Status reports the current state and session.
func (t *Tracker) Status() (State, *models.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sess == nil {
		return t.state, nil
	}

	sess := *t.sess

	return t.state, &sess
}

// QueueDepth reports the buffered observation counts.
func (t *Tracker) QueueDepth() models.QueueDepth {
	t.mu.Lock()
	q := t.q
	t.mu.Unlock()

	if q == nil {
		return models.QueueDepth{}
	}

	return q.Depth()
}

// ActivityScore reports the current activity score and risk level.
func (t *Tracker) ActivityScore() anticheat.Score {
	t.mu.Lock()
	scorer := t.scorer
	t.mu.Unlock()

	if scorer == nil {
		return anticheat.Score{Risk: models.RiskLow}
	}

	return scorer.ScoreNow()
}

// Alerts returns the retained anti-cheat alert log.
func (t *Tracker) Alerts() []models.SuspiciousEvent {
	t.mu.Lock()
	scorer := t.scorer
	t.mu.Unlock()

	if scorer == nil {
		return nil
	}

	return scorer.Alerts()
}

// Input exposes the input-event intake for the OS event wiring.
func (t *Tracker) Input() *anticheat.Scorer {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.scorer
}

// Subscribe returns a channel of tracker events. Slow subscribers drop
// events rather than blocking the tracker.
func (t *Tracker) Subscribe() <-chan Event {
	ch := make(chan Event, 16)

	t.subMu.Lock()
	t.subs = append(t.subs, ch)
	t.subMu.Unlock()

	return ch
}

func (t *Tracker) publish(ev Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// startActiveLoops launches the loops that only run while ACTIVE:
// foreground detection and screenshot capture.
func (t *Tracker) startActiveLoops() {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	// Defensively clear a previous cadence before re-initializing so a
	// duplicate start can never double the timers.
	if t.cancelActive != nil {
		t.cancelActive()
	}
	t.cancelActive = cancel
	detector := t.detector
	shots := t.shots
	degraded := t.captureDegrade
	t.mu.Unlock()

	t.goRun(func() { detector.Run(ctx) })

	if !degraded {
		t.goRun(func() { shots.Run(ctx) })
	}
}

// stopActiveLoopsLocked cancels the cadenced loops. Callers must hold
// t.mu. Stopping twice is a no-op.
func (t *Tracker) stopActiveLoopsLocked() {
	if t.cancelActive != nil {
		t.cancelActive()
		t.cancelActive = nil
	}
}

func (t *Tracker) goRun(fn func()) {
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// recheckLoop periodically polls the permission checker so a disabled
// probe can recover. Pull-based on purpose: no coupling to OS
// notification APIs.
func (t *Tracker) recheckLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Probe.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.recheckOnce()
		}
	}
}

// recheckOnce polls the permission gate and, when the probe recovers from
// a permission-loss pause, resumes tracking without operator confirmation.
func (t *Tracker) recheckOnce() {
	t.mu.Lock()
	gate := t.probeGate
	t.mu.Unlock()

	if !gate.Recheck() {
		return
	}

	t.mu.Lock()
	resume := t.state == StatePaused && t.pauseReason == PausePermission
	t.mu.Unlock()

	if !resume {
		return
	}

	if err := t.Resume(false); err != nil {
		slog.Warn("resume after permission recovery failed", slog.Any("error", err))
	}
}

// pollTick runs on the idle-check cadence. It refreshes the last-activity
// clock from the OS idle counter, so idle detection and score decay work
// even when no input hook feeds the intake path, then runs the heuristics
// pass.
func (t *Tracker) pollTick() {
	t.mu.Lock()
	scorer := t.scorer
	t.mu.Unlock()

	if scorer == nil {
		return
	}

	if t.collab.Idle != nil {
		if d, err := t.collab.Idle.IdleTime(); err == nil {
			scorer.ObserveActivity(t.now().Add(-d))
		}
	}

	scorer.Analyze()
}

// reconcile force-closes stale open sessions from a previous run. Best
// effort: failures are logged and tracking proceeds regardless.
func (t *Tracker) reconcile() {
	open, err := t.db.OpenSessions()
	if err != nil {
		slog.Warn("session reconciliation failed", slog.Any("error", err))
		return
	}

	for i := range open {
		sess := open[i]
		end := t.now()
		sess.EndTime = &end
		sess.Status = models.SessionCompleted

		if err := t.registerStop(&sess); err != nil {
			slog.Warn(
				"closing stale session remotely failed",
				slog.String("session_id", sess.ID),
				slog.Any("error", err),
			)

			continue
		}

		if err := t.db.DeleteSession(&sess); err != nil {
			slog.Warn(
				"removing stale session failed",
				slog.String("session_id", sess.ID),
				slog.Any("error", err),
			)
		}

		slog.Info("stale session force-closed", slog.String("session_id", sess.ID))
	}

	ctx, cancel := t.remoteCtx()
	defer cancel()

	if err := t.remote.CloseStale(ctx, t.cfg.Settings.UserID); err != nil {
		slog.Warn("remote stale-session cleanup failed", slog.Any("error", err))
	}
}

func (t *Tracker) registerStart(sess *models.Session) error {
	ctx, cancel := t.remoteCtx()
	defer cancel()

	return t.remote.StartTimeLog(ctx, sess)
}

func (t *Tracker) registerStop(sess *models.Session) error {
	ctx, cancel := t.remoteCtx()
	defer cancel()

	return t.remote.StopTimeLog(ctx, sess)
}

func (t *Tracker) remoteCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(
		context.Background(),
		t.cfg.Sync.RequestTimeout,
	)
}

// handleIdleStart pauses tracking when the idle threshold is crossed.
func (t *Tracker) handleIdleStart(since time.Time) {
	if err := t.Pause(PauseIdle); err != nil {
		slog.Warn("pause on idle failed", slog.Any("error", err))
		return
	}

	t.notify(
		"Idle detected",
		"Tracking paused after inactivity. Resume when you are back.",
	)

	t.publish(Event{
		Type:   EventIdleStart,
		State:  StatePaused,
		Reason: PauseIdle,
		At:     since,
	})
}

// handleIdleEnd surfaces the closed idle period. Tracking stays paused
// until the operator confirms the resume.
func (t *Tracker) handleIdleEnd(p models.IdlePeriod) {
	t.notify(
		"Activity resumed",
		fmt.Sprintf(
			"You were idle for %d minute(s). Confirm to resume tracking.",
			p.DurationMinutes,
		),
	)

	state, _ := t.Status()

	t.publish(Event{
		Type:  EventIdleEnd,
		State: state,
		Idle:  &p,
		At:    p.End,
	})
	t.writeStatus()
}

// handleProbeDisabled pauses tracking when the probe gate trips after
// repeated foreground failures. The recheck loop resumes tracking on its
// own once the OS capability is granted again.
func (t *Tracker) handleProbeDisabled() {
	if err := t.Pause(PausePermission); err != nil {
		slog.Warn("pause on permission loss failed", slog.Any("error", err))
		return
	}

	t.notify(
		"App detection unavailable",
		"The foreground probe was denied repeatedly. Tracking is paused "+
			"until the permission is granted again.",
	)
}

// handleCaptureDegraded records that screenshots are suspended; tracking
// itself continues.
func (t *Tracker) handleCaptureDegraded() {
	t.mu.Lock()
	t.captureDegrade = true
	state := t.state
	t.mu.Unlock()

	t.notify(
		"Screenshots unavailable",
		"Screenshot capture failed repeatedly and was suspended. "+
			"App and URL tracking continues.",
	)

	t.publish(Event{
		Type:   EventDegraded,
		State:  state,
		Detail: "screenshot capture suspended after repeated failures",
		At:     t.now(),
	})
	t.writeStatus()
}

// handleAlert relays anti-cheat flags to the operator; HIGH severity also
// fires the configured hook command.
func (t *Tracker) handleAlert(ev models.SuspiciousEvent) {
	state, _ := t.Status()

	t.publish(Event{
		Type:  EventAlert,
		State: state,
		Alert: &ev,
		At:    ev.Timestamp,
	})

	if ev.Severity != models.RiskHigh {
		return
	}

	t.notify(
		"Suspicious activity flagged",
		fmt.Sprintf("%s: %s", ev.Kind, ev.Detail),
	)

	t.runAlertCmd(ev)
}

// runAlertCmd executes the operator-configured alert hook, if any. The
// hook runs under a timeout so it cannot stall the alert path.
func (t *Tracker) runAlertCmd(ev models.SuspiciousEvent) {
	alertCmd := t.cfg.Settings.AlertCmd
	if alertCmd == "" {
		return
	}

	cmdSlice, err := shellquote.Split(alertCmd)
	if err != nil {
		slog.Warn("unable to parse alert_cmd option", slog.Any("error", err))
		return
	}

	if len(cmdSlice) == 0 {
		return
	}

	name := cmdSlice[0]
	args := append(cmdSlice[1:], ev.Kind, ev.Detail)

	ctx, cancel := context.WithTimeout(context.Background(), alertCmdTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		slog.Warn("alert_cmd failed", slog.Any("error", err))
	}
}

func (t *Tracker) notify(title, message string) {
	if !t.cfg.Notifications.Enabled {
		return
	}

	if err := beeep.Notify(title, message, ""); err != nil {
		slog.Warn("unable to display notification", slog.Any("error", err))
	}
}
