package mesh

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// PollController sets how often a sleepy child polls its parent for
// buffered downlink messages.
type PollController interface {
	SetPollPeriod(period time.Duration) error
}

// Starter is the single-shot timer the Poller uses to end a fast-poll window.
type Starter interface {
	Start(period time.Duration) error
	Stop()
}

// PollConfig holds the poll periods.
type PollConfig struct {
	Default     time.Duration // normal, slow cadence
	Fast        time.Duration // cadence while awaiting a response
	FastTimeout time.Duration // fast cadence ends after this long at the latest
}

// Poller switches between the normal and the fast poll period. It must only
// be used from the main loop.
type Poller struct {
	ctl   PollController
	cfg   PollConfig
	timer Starter
	log   logrus.FieldLogger

	fast bool
}

// NewPoller creates a poller that starts in the normal cadence.
func NewPoller(ctl PollController, cfg PollConfig, log logrus.FieldLogger) *Poller {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Poller{ctl: ctl, cfg: cfg, log: log}
}

// UseTimer installs the fast-poll timeout timer. Its callback must call
// Restore on the loop.
func (p *Poller) UseTimer(t Starter) {
	p.timer = t
}

// Fast engages the fast poll period and arms the fast-poll timeout.
func (p *Poller) Fast() error {
	if p.timer != nil && p.cfg.FastTimeout > 0 {
		if err := p.timer.Start(p.cfg.FastTimeout); err != nil {
			p.log.WithError(err).Warn("Failed to arm fast poll timeout")
		}
	}
	if p.fast {
		return nil
	}
	if err := p.set(p.cfg.Fast); err != nil {
		return err
	}
	p.fast = true
	return nil
}

// Restore returns to the normal poll period.
func (p *Poller) Restore() error {
	if p.timer != nil {
		p.timer.Stop()
	}
	if !p.fast {
		return nil
	}
	p.fast = false
	return p.set(p.cfg.Default)
}

// IsFast reports whether the fast period is engaged.
func (p *Poller) IsFast() bool {
	return p.fast
}

func (p *Poller) set(period time.Duration) error {
	if p.ctl == nil {
		return nil
	}
	if err := p.ctl.SetPollPeriod(period); err != nil {
		return fmt.Errorf("failed to set poll period %s: %w", period, err)
	}
	p.log.WithField("period", period).Debug("Poll period set")
	return nil
}

// LogPollController only logs poll period changes. It serves transports
// without a sleepy-child link, such as MQTT.
type LogPollController struct {
	Log logrus.FieldLogger
}

// SetPollPeriod implements PollController.
func (c LogPollController) SetPollPeriod(period time.Duration) error {
	if c.Log != nil {
		c.Log.WithField("period", period).Info("Poll period requested")
	}
	return nil
}
