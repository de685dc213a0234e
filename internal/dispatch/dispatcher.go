// Package dispatch paces outbound campaign sends. The eligible
// audience is materialized once at launch; a single pacer goroutine per
// campaign owns the cursor, counters and terminal states, while a
// bounded worker pool performs the network sends. Every attempt is
// issued at least one throttle interval after the previous one, so the
// aggregate rate never exceeds the policy cap in any rolling 60 second
// window, regardless of worker count.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokopoints/campaigner/internal/audience"
	"github.com/tokopoints/campaigner/internal/campaign"
	"github.com/tokopoints/campaigner/internal/faults"
	"github.com/tokopoints/campaigner/internal/metrics"
	"github.com/tokopoints/campaigner/internal/outcome"
	"github.com/tokopoints/campaigner/internal/policy"
	"github.com/tokopoints/campaigner/internal/risk"
	"github.com/tokopoints/campaigner/internal/store"
	"github.com/tokopoints/campaigner/internal/transport"
)

// Config contains dispatcher tuning.
type Config struct {
	Workers             int
	MaxAttempts         int
	RetryDelay          time.Duration
	SendTimeout         time.Duration
	FailureWindow       int
	AutoPauseMinSamples int
	SchedulerInterval   time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		MaxAttempts:         3,
		RetryDelay:          5 * time.Second,
		SendTimeout:         30 * time.Second,
		FailureWindow:       20,
		AutoPauseMinSamples: 5,
		SchedulerInterval:   15 * time.Second,
	}
}

// RiskBlockedError is the policy decision refusing a launch on content
// risk. It carries the score and reasons, and is not a validation
// failure: the campaign itself stays untouched.
type RiskBlockedError struct {
	Score    int
	NeedsAck bool
	Reasons  []string
}

func (e *RiskBlockedError) Error() string {
	if e.NeedsAck {
		return fmt.Sprintf("launch requires risk acknowledgement (score %d)", e.Score)
	}
	return fmt.Sprintf("content risk blocked launch (score %d): %s", e.Score, strings.Join(e.Reasons, "; "))
}

// Dispatcher schedules and sends materialized campaigns. Distinct
// campaigns run fully independently.
type Dispatcher struct {
	store    *store.Store
	resolver *audience.Resolver
	sender   transport.Sender
	outcomes outcome.Publisher
	policy   policy.Config
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a dispatcher. Zero config fields fall back to defaults.
func New(st *store.Store, resolver *audience.Resolver, sender transport.Sender,
	outcomes outcome.Publisher, pol policy.Config, cfg Config,
	m *metrics.Metrics, logger *slog.Logger) *Dispatcher {

	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.AutoPauseMinSamples <= 0 {
		cfg.AutoPauseMinSamples = def.AutoPauseMinSamples
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = def.SchedulerInterval
	}

	return &Dispatcher{
		store:    st,
		resolver: resolver,
		sender:   sender,
		outcomes: outcomes,
		policy:   pol,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "dispatcher"),
		clock:    NewClock(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		runs:     make(map[string]*run),
	}
}

// run is the per-campaign control block. The pacer goroutine is the
// sole writer of campaign state while it is alive.
type run struct {
	cancel     context.CancelFunc
	pauseReq   atomic.Bool
	archiveReq atomic.Bool
	ackOnce    sync.Once
	ack        chan struct{} // closed once the stop was observed and persisted
	done       chan struct{} // closed after in-flight sends drained
}

func (r *run) signalAck() { r.ackOnce.Do(func() { close(r.ack) }) }

// Launch moves a campaign into sending. The message is gated through
// the risk scorer first, the eligible audience is materialized exactly
// once, and a future schedule parks the campaign in scheduled instead.
func (d *Dispatcher) Launch(ctx context.Context, campaignID string) error {
	c, err := d.store.GetCampaign(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return faults.Invalid("campaign_id", "campaign %s not found", campaignID)
	}
	// Launch materializes the audience; a paused campaign resumes its
	// existing tickets through Resume instead.
	if c.Status != campaign.StatusDraft && c.Status != campaign.StatusScheduled {
		return &campaign.InvalidTransitionError{CampaignID: c.ID, From: c.Status, To: campaign.StatusSending}
	}

	if err := d.riskGate(c); err != nil {
		return err
	}

	now := d.clock.Now()
	if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		if c.Status == campaign.StatusScheduled {
			return nil
		}
		if err := c.Transition(campaign.StatusScheduled, now); err != nil {
			return err
		}
		if err := d.store.SaveCampaign(c); err != nil {
			return err
		}
		d.logger.Info("campaign scheduled", "campaign_id", c.ID, "scheduled_at", c.ScheduledAt)
		return nil
	}

	return d.launchNow(ctx, c)
}

func (d *Dispatcher) launchNow(ctx context.Context, c *campaign.Campaign) error {
	eligible, err := d.resolver.Eligible(ctx, c.Audience)
	if err != nil {
		return err
	}

	now := d.clock.Now()
	tickets := d.materialize(c, eligible, now)

	if err := c.Transition(campaign.StatusSending, now); err != nil {
		return err
	}
	if err := d.store.SaveTickets(c.ID, tickets); err != nil {
		return err
	}
	if err := d.store.SaveCampaign(c); err != nil {
		return err
	}

	d.logger.Info("campaign launched", "campaign_id", c.ID, "recipients", len(tickets))
	d.startRun(c)
	return nil
}

// riskGate refuses a launch per the gating policy: the blocked band
// and structural errors block unconditionally, the warning band needs
// the operator's recorded acknowledgement.
func (d *Dispatcher) riskGate(c *campaign.Campaign) error {
	a := risk.Score(c.Message, risk.Limits{MaxLinks: d.policy.MaxLinks, MaxLength: d.policy.MaxLength})
	if a.Blocked {
		reasons := a.Errors
		if len(reasons) == 0 {
			reasons = a.Warnings
		}
		return &RiskBlockedError{Score: a.Score, Reasons: reasons}
	}
	if a.RequiresAck && !c.RiskAcknowledged {
		return &RiskBlockedError{Score: a.Score, NeedsAck: true, Reasons: a.Warnings}
	}
	return nil
}

// materialize renders each eligible recipient and plans its send time:
// previous + interval + jitter, shifted past quiet hours.
func (d *Dispatcher) materialize(c *campaign.Campaign, eligible []audience.Recipient, start time.Time) []*campaign.DispatchTicket {
	interval := d.policy.Interval()
	next := d.policy.NextAllowed(start)

	tickets := make([]*campaign.DispatchTicket, 0, len(eligible))
	for i, r := range eligible {
		if i > 0 {
			next = d.policy.NextAllowed(next.Add(interval + d.jitter()))
		}
		tickets = append(tickets, &campaign.DispatchTicket{
			Seq:         i,
			RecipientID: r.ID,
			Phone:       r.Phone,
			Body:        Render(c.Message, r, c.LinkURL),
			ScheduledAt: next,
			State:       campaign.TicketPending,
		})
	}
	return tickets
}

func (d *Dispatcher) jitter() time.Duration {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.policy.Jitter(d.rng)
}

// Pause stops ticket issuance immediately; in-flight sends finish and
// their results are still recorded. Returns once the paused status is
// persisted.
func (d *Dispatcher) Pause(ctx context.Context, campaignID string) error {
	d.mu.Lock()
	r := d.runs[campaignID]
	d.mu.Unlock()

	if r == nil {
		c, err := d.store.GetCampaign(campaignID)
		if err != nil {
			return err
		}
		if c == nil {
			return faults.Invalid("campaign_id", "campaign %s not found", campaignID)
		}
		// A sending campaign without a run is a crash leftover; pausing
		// it is just a status change.
		if err := c.Transition(campaign.StatusPaused, d.clock.Now()); err != nil {
			return err
		}
		return d.store.SaveCampaign(c)
	}

	r.pauseReq.Store(true)
	r.cancel()

	select {
	case <-r.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume continues a paused campaign from the next unsent recipient.
// Recipients already marked sent are never re-sent.
func (d *Dispatcher) Resume(ctx context.Context, campaignID string) error {
	d.mu.Lock()
	_, running := d.runs[campaignID]
	d.mu.Unlock()
	if running {
		return faults.Invalid("campaign_id", "campaign %s is already running", campaignID)
	}

	c, err := d.store.GetCampaign(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return faults.Invalid("campaign_id", "campaign %s not found", campaignID)
	}
	if err := c.Transition(campaign.StatusSending, d.clock.Now()); err != nil {
		return err
	}
	if err := d.store.SaveCampaign(c); err != nil {
		return err
	}

	d.logger.Info("campaign resumed", "campaign_id", c.ID)
	d.startRun(c)
	return nil
}

// Archive stops the campaign if running and moves it to the terminal
// archived state, retiring its tickets.
func (d *Dispatcher) Archive(ctx context.Context, campaignID string) error {
	d.mu.Lock()
	r := d.runs[campaignID]
	d.mu.Unlock()

	if r != nil {
		r.archiveReq.Store(true)
		r.cancel()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c, err := d.store.GetCampaign(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return faults.Invalid("campaign_id", "campaign %s not found", campaignID)
	}
	if err := c.Transition(campaign.StatusArchived, d.clock.Now()); err != nil {
		return err
	}
	if err := d.store.SaveCampaign(c); err != nil {
		return err
	}
	return d.store.DeleteTickets(c.ID)
}

// TestSend delivers one message to the operator's own number. It
// bypasses audience resolution and throttling entirely and never
// touches campaign counters.
func (d *Dispatcher) TestSend(ctx context.Context, phone, body string) error {
	if phone == "" {
		return faults.Invalid("phone", "required")
	}
	sample := audience.Recipient{
		ID:            "test",
		Name:          "Test Operator",
		Phone:         phone,
		State:         "Selangor",
		CurrentPoints: 1250,
	}
	rendered := Render(body, sample, "https://example.test/c/preview")

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.sender.Send(ctx, phone, rendered)
}

// Recover restarts the runs of campaigns left in sending after a
// restart. Terminal tickets are skipped, so nothing is re-sent.
func (d *Dispatcher) Recover(ctx context.Context) error {
	sending, err := d.store.ListByStatus(campaign.StatusSending)
	if err != nil {
		return err
	}
	for _, c := range sending {
		d.logger.Info("recovering campaign", "campaign_id", c.ID)
		d.startRun(c)
	}
	return nil
}

// RunScheduler promotes due scheduled campaigns until ctx is done.
func (d *Dispatcher) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PromoteDue(ctx)
		}
	}
}

// PromoteDue launches every scheduled campaign whose time has come.
func (d *Dispatcher) PromoteDue(ctx context.Context) {
	scheduled, err := d.store.ListByStatus(campaign.StatusScheduled)
	if err != nil {
		d.logger.Error("failed to list scheduled campaigns", "error", err)
		return
	}
	now := d.clock.Now()
	for _, c := range scheduled {
		if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
			continue
		}
		if err := d.launchNow(ctx, c); err != nil {
			d.logger.Error("failed to start scheduled campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		d.logger.Info("started scheduled campaign", "campaign_id", c.ID)
	}
}

// Stop cancels all runs and waits for in-flight sends to drain.
// Campaign status stays sending; Recover picks them up on restart.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	runs := make([]*run, 0, len(d.runs))
	for _, r := range d.runs {
		runs = append(runs, r)
	}
	d.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		<-r.done
	}
}

// Running reports whether the campaign currently has an active run.
func (d *Dispatcher) Running(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.runs[campaignID]
	return ok
}

func (d *Dispatcher) startRun(c *campaign.Campaign) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel: cancel,
		ack:    make(chan struct{}),
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	d.runs[c.ID] = r
	d.mu.Unlock()
	d.metrics.ActiveCampaigns.Inc()

	go d.runLoop(ctx, c, r)
}

type attemptResult struct {
	ticket *campaign.DispatchTicket
	err    error
}

func (d *Dispatcher) runLoop(ctx context.Context, c *campaign.Campaign, r *run) {
	logger := d.logger.With("campaign_id", c.ID)

	defer close(r.done)
	defer r.signalAck()
	defer func() {
		d.mu.Lock()
		delete(d.runs, c.ID)
		d.mu.Unlock()
		d.metrics.ActiveCampaigns.Dec()
	}()

	all, err := d.store.Tickets(c.ID)
	if err != nil {
		logger.Error("failed to load tickets", "error", err)
		return
	}
	var queue []*campaign.DispatchTicket
	for _, tk := range all {
		if !tk.Terminal() {
			queue = append(queue, tk)
		}
	}

	results := make(chan attemptResult, d.cfg.Workers)
	// The failure window sees terminal outcomes only. A transient
	// failure that will be retried is not a delivery verdict yet; a
	// campaign whose every message eventually lands must never pause
	// itself.
	window := newRollingWindow(d.cfg.FailureWindow)
	inflight := 0
	cursor := 0
	stopped := false
	var lastIssue time.Time

	handle := func(res attemptResult) {
		inflight--
		tk := res.ticket
		now := d.clock.Now()

		if res.err == nil {
			tk.State = campaign.TicketSent
			tk.SentAt = &now
			tk.LastError = ""
			if err := d.store.PutTicket(c.ID, tk); err != nil {
				logger.Error("failed to persist ticket", "seq", tk.Seq, "error", err)
			}
			c.SentCount++
			if err := d.store.SaveCampaign(c); err != nil {
				logger.Error("failed to persist counters", "error", err)
			}
			d.publish(c, tk, outcome.StatusSent, "")
			d.metrics.SentTotal.WithLabelValues(c.ID).Inc()
			window.record(false)
		} else {
			if !transport.IsPermanent(res.err) && tk.Attempts < d.cfg.MaxAttempts {
				tk.LastError = res.err.Error()
				tk.ScheduledAt = now.Add(d.backoff(tk.Attempts))
				if err := d.store.PutTicket(c.ID, tk); err != nil {
					logger.Error("failed to persist ticket", "seq", tk.Seq, "error", err)
				}
				d.metrics.RetriesTotal.WithLabelValues(c.ID).Inc()
				logger.Warn("send deferred",
					"recipient_id", tk.RecipientID,
					"attempt", tk.Attempts,
					"retry_at", tk.ScheduledAt,
					"error", res.err,
				)
				insertByTime(&queue, cursor, tk)
			} else {
				tk.State = campaign.TicketFailed
				tk.LastError = res.err.Error()
				if err := d.store.PutTicket(c.ID, tk); err != nil {
					logger.Error("failed to persist ticket", "seq", tk.Seq, "error", err)
				}
				c.FailedCount++
				if err := d.store.SaveCampaign(c); err != nil {
					logger.Error("failed to persist counters", "error", err)
				}
				d.publish(c, tk, outcome.StatusFailed, res.err.Error())
				d.metrics.FailedTotal.WithLabelValues(c.ID).Inc()
				window.record(true)
				logger.Error("send failed permanently",
					"recipient_id", tk.RecipientID,
					"attempts", tk.Attempts,
					"error", res.err,
				)
			}
		}

		if !stopped && window.samples() >= d.cfg.AutoPauseMinSamples && window.rate() > d.policy.AutoPauseFailurePct {
			rate := window.rate()
			if err := c.Transition(campaign.StatusPaused, d.clock.Now()); err != nil {
				logger.Error("failed to auto-pause", "error", err)
				return
			}
			c.PauseReason = fmt.Sprintf("auto-paused: failure rate %.1f%% exceeded %.1f%%",
				rate, d.policy.AutoPauseFailurePct)
			if err := d.store.SaveCampaign(c); err != nil {
				logger.Error("failed to persist auto-pause", "error", err)
			}
			d.metrics.AutoPauseTotal.Inc()
			logger.Warn("campaign auto-paused",
				"failure_rate_pct", rate,
				"threshold_pct", d.policy.AutoPauseFailurePct,
			)
			stopped = true
		}
	}

	for {
		// Collect finished attempts without blocking.
	drain:
		for {
			select {
			case res := <-results:
				handle(res)
			default:
				break drain
			}
		}

		if ctx.Err() != nil && !stopped {
			stopped = true
			if r.pauseReq.Load() {
				if err := c.Transition(campaign.StatusPaused, d.clock.Now()); err != nil {
					logger.Error("failed to pause", "error", err)
				} else if err := d.store.SaveCampaign(c); err != nil {
					logger.Error("failed to persist pause", "error", err)
				}
				logger.Info("campaign paused by operator",
					"sent", c.SentCount, "failed", c.FailedCount)
			}
			r.signalAck()
		}

		if stopped {
			// Already acknowledged; drain what is still in the air.
			if inflight == 0 {
				break
			}
			handle(<-results)
			continue
		}

		if cursor >= len(queue) || inflight >= d.cfg.Workers {
			if cursor >= len(queue) && inflight == 0 {
				break
			}
			// Waiting on an in-flight send must not delay a stop
			// request: a pause is acknowledged the moment issuance
			// halts, the in-flight result is collected afterwards.
			select {
			case res := <-results:
				handle(res)
			case <-ctx.Done():
			}
			continue
		}

		// Issue the next ticket: never earlier than its planned time,
		// never closer than one interval to the previous issue, never
		// inside quiet hours.
		tk := queue[cursor]
		issueAt := tk.ScheduledAt
		if !lastIssue.IsZero() {
			if floor := lastIssue.Add(d.policy.Interval()); issueAt.Before(floor) {
				issueAt = floor
			}
		}
		issueAt = d.policy.NextAllowed(issueAt)

		if wait := issueAt.Sub(d.clock.Now()); wait > 0 {
			if err := d.clock.Sleep(ctx, wait); err != nil {
				continue
			}
		}
		if ctx.Err() != nil {
			continue
		}

		cursor++
		tk.Attempts++
		lastIssue = d.clock.Now()
		inflight++
		go d.attempt(tk, results)
	}

	if r.archiveReq.Load() {
		if err := c.Transition(campaign.StatusArchived, d.clock.Now()); err != nil {
			logger.Error("failed to archive", "error", err)
			return
		}
		if err := d.store.SaveCampaign(c); err != nil {
			logger.Error("failed to persist archive", "error", err)
		}
		if err := d.store.DeleteTickets(c.ID); err != nil {
			logger.Error("failed to retire tickets", "error", err)
		}
		logger.Info("campaign archived")
		return
	}
	if stopped {
		return
	}

	d.finish(c, logger)
}

// attempt performs one bounded network send. The context is detached
// from the run so pausing never kills an in-flight send; the timeout
// guarantees the cursor cannot stall on a hung attempt.
func (d *Dispatcher) attempt(tk *campaign.DispatchTicket, results chan<- attemptResult) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, tk.Phone, tk.Body)
	if err == nil && ctx.Err() != nil {
		err = transport.Transient(tk.Phone, ctx.Err())
	}
	results <- attemptResult{ticket: tk, err: err}
}

func (d *Dispatcher) finish(c *campaign.Campaign, logger *slog.Logger) {
	next := campaign.StatusCompleted
	if c.SentCount == 0 && c.FailedCount > 0 {
		next = campaign.StatusFailed
	}
	if err := c.Transition(next, d.clock.Now()); err != nil {
		logger.Error("failed to finish campaign", "error", err)
		return
	}
	if err := d.store.SaveCampaign(c); err != nil {
		logger.Error("failed to persist finish", "error", err)
	}
	if err := d.store.DeleteTickets(c.ID); err != nil {
		logger.Error("failed to retire tickets", "error", err)
	}
	logger.Info("campaign finished",
		"status", next, "sent", c.SentCount, "failed", c.FailedCount)
}

func (d *Dispatcher) publish(c *campaign.Campaign, tk *campaign.DispatchTicket, status, errMsg string) {
	o := &outcome.Outcome{
		CampaignID:  c.ID,
		RecipientID: tk.RecipientID,
		Phone:       tk.Phone,
		Status:      status,
		Error:       errMsg,
		Attempts:    tk.Attempts,
		Timestamp:   d.clock.Now(),
	}
	if err := d.outcomes.Publish(context.Background(), o); err != nil {
		d.logger.Error("failed to publish outcome",
			"campaign_id", c.ID, "recipient_id", tk.RecipientID, "error", err)
	}
}

// backoff grows exponentially from RetryDelay, capped at 8x.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := 1 << (attempt - 1)
	if mult > 8 {
		mult = 8
	}
	return time.Duration(mult) * d.cfg.RetryDelay
}

// insertByTime re-inserts a retried ticket keeping queue[from:] sorted
// by planned time.
func insertByTime(queue *[]*campaign.DispatchTicket, from int, tk *campaign.DispatchTicket) {
	q := *queue
	pos := len(q)
	for i := from; i < len(q); i++ {
		if q[i].ScheduledAt.After(tk.ScheduledAt) {
			pos = i
			break
		}
	}
	q = append(q, nil)
	copy(q[pos+1:], q[pos:])
	q[pos] = tk
	*queue = q
}
