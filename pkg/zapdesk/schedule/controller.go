// Package schedule flips the bot enable flag on a daily time window. A cron
// job evaluates the window every minute and writes the flag only when it
// actually changes, so manual dashboard overrides survive until the next
// boundary crossing.
package schedule

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
)

// Settings keys the controller reads each tick.
const (
	keyScheduleEnabled = "schedule_enabled"
	keyScheduleStart   = "schedule_start"
	keyScheduleEnd     = "schedule_end"
	keyBotEnabled      = "bot_enabled"
)

// Controller owns the cron-driven schedule evaluation.
type Controller struct {
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	cron    *cron.Cron
	started atomic.Bool
	ticking atomic.Bool
}

// New creates a controller. Start must be called to begin evaluation.
func New(st *store.Store, bus *events.Bus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  st,
		bus:    bus,
		logger: logger.With("component", "schedule"),
		now:    time.Now,
	}
}

// Start registers the every-minute job and starts the cron runner.
// Idempotent: repeated calls are no-ops.
func (c *Controller) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc("* * * * *", c.tick); err != nil {
		c.started.Store(false)
		return fmt.Errorf("registering schedule job: %w", err)
	}
	c.cron.Start()
	c.logger.Info("schedule controller started")

	// Apply the window immediately instead of waiting up to a minute.
	go c.tick()
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (c *Controller) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	<-c.cron.Stop().Done()
	c.logger.Info("schedule controller stopped")
}

// tick evaluates the window once. Overlapping runs are skipped.
func (c *Controller) tick() {
	if !c.ticking.CompareAndSwap(false, true) {
		return
	}
	defer c.ticking.Store(false)

	if !c.store.SettingBool(keyScheduleEnabled) {
		return
	}

	start, err := c.store.Setting(keyScheduleStart)
	if err != nil {
		c.logger.Error("schedule start unavailable", "error", err)
		return
	}
	end, err := c.store.Setting(keyScheduleEnd)
	if err != nil {
		c.logger.Error("schedule end unavailable", "error", err)
		return
	}

	now := c.now().Format("15:04")
	want := withinWindow(start, end, now)
	current := c.store.SettingBool(keyBotEnabled)
	if want == current {
		return
	}

	value := "false"
	if want {
		value = "true"
	}
	if err := c.store.SetSetting(keyBotEnabled, value); err != nil {
		c.logger.Error("updating bot enabled flag failed", "error", err)
		return
	}

	c.logger.Info("schedule flipped bot enabled flag",
		"enabled", want, "window_start", start, "window_end", end)
	c.bus.Publish(events.Event{
		Type: events.TypeBotEnabled,
		Data: map[string]any{"enabled": want},
	})
}

// withinWindow reports whether now falls inside the [start, end) daily
// window. All values are zero-padded "HH:MM" strings, which order correctly
// under plain string comparison. A window whose end is not after its start
// wraps past midnight.
func withinWindow(start, end, now string) bool {
	if start <= end {
		return start <= now && now < end
	}
	return now >= start || now < end
}
