package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/metrics"
)

// Monitor rescores an account from stored signals only: the latest
// behaviour sample, open alerts and the time window. It is what the
// per-session watcher runs on every tick.
func (d *Detector) Monitor(ctx context.Context, accountID string) (ThreatReport, error) {
	var report ThreatReport
	add := func(t Threat) {
		report.Threats = append(report.Threats, t)
		report.RiskScore += t.Weight
	}

	b, err := d.assessor.LastBehavior(ctx, accountID)
	if err != nil {
		return ThreatReport{}, fmt.Errorf("last behavior: %w", err)
	}
	if b.Anomalous {
		add(behaviorThreat(b))
	}

	open, err := d.records.ListFraudAlerts(ctx, accountID, true)
	if err != nil {
		return ThreatReport{}, fmt.Errorf("list open alerts: %w", err)
	}
	if len(open) > 0 {
		weight := float64(len(open)) * weightOpenAlert
		if weight > 3*weightOpenAlert {
			weight = 3 * weightOpenAlert
		}
		add(Threat{
			Type:     ThreatOpenAlerts,
			Severity: severityFor(weight),
			Detail:   fmt.Sprintf("%d unresolved fraud alerts", len(open)),
			Weight:   weight,
		})
	}

	window, err := d.assessor.CheckTime(ctx, accountID, d.now())
	if err != nil {
		return ThreatReport{}, fmt.Errorf("check time window: %w", err)
	}
	if !window.Allowed {
		add(Threat{Type: ThreatTimeWindow, Severity: domain.SeverityMedium, Detail: window.Reason, Weight: weightTime})
	}

	report.RiskScore = clamp01(report.RiskScore)
	report.Recommendations = recommend(report)
	d.saveState(ctx, accountID, report)
	return report, nil
}

type watch struct {
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Watcher runs one recurring risk task per active session. Ending a
// session cancels its task and waits for it to exit.
type Watcher struct {
	detector *Detector
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
	stopped bool
}

// NewWatcher builds a Watcher that rescores every interval.
func NewWatcher(detector *Detector, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		detector: detector,
		interval: interval,
		logger:   logger,
		watches:  make(map[string]*watch),
	}
}

// SessionStarted starts the session's task. Starting an already watched
// session is a no-op.
func (w *Watcher) SessionStarted(s domain.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if _, exists := w.watches[s.ID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	wt := &watch{accountID: s.AccountID, cancel: cancel, done: make(chan struct{})}
	w.watches[s.ID] = wt
	metrics.RiskWatchers.Inc()
	go w.run(ctx, s.ID, wt)
}

// SessionEnded cancels the session's task and blocks until it has returned.
func (w *Watcher) SessionEnded(sessionID string) {
	w.mu.Lock()
	wt, ok := w.watches[sessionID]
	if ok {
		delete(w.watches, sessionID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	wt.cancel()
	<-wt.done
}

// Active reports the number of running tasks.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// Stop cancels every task and refuses new ones.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	ids := make([]string, 0, len(w.watches))
	for id := range w.watches {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.SessionEnded(id)
	}
}

func (w *Watcher) run(ctx context.Context, sessionID string, wt *watch) {
	defer close(wt.done)
	defer metrics.RiskWatchers.Dec()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.safeTick(ctx, sessionID, wt.accountID)
		}
	}
}

func (w *Watcher) safeTick(ctx context.Context, sessionID, accountID string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in session risk monitor", "session_id", sessionID, "panic", fmt.Sprint(r))
		}
	}()
	report, err := w.detector.Monitor(ctx, accountID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("session risk monitor failed", "session_id", sessionID, "error", err)
		}
		return
	}
	if report.RiskScore >= 0.7 {
		w.logger.Warn("session risk elevated",
			"session_id", sessionID,
			"account_id", accountID,
			"risk_score", report.RiskScore,
		)
	}
}
