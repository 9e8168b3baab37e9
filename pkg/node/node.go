// Package node assembles the sensor node: peripherals feed the filters, the
// report engine and the key event notifier share one transport, and all of it
// runs on a single cooperative loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/buttonb/pkg/config"
	"github.com/itohio/buttonb/pkg/event"
	"github.com/itohio/buttonb/pkg/hal"
	"github.com/itohio/buttonb/pkg/mesh"
	"github.com/itohio/buttonb/pkg/metrics"
	"github.com/itohio/buttonb/pkg/report"
	"github.com/itohio/buttonb/pkg/sample"
	"github.com/itohio/buttonb/pkg/sched"
	"github.com/itohio/buttonb/pkg/subscription"
	"github.com/itohio/buttonb/pkg/timer"
	"github.com/itohio/buttonb/pkg/transport"
)

// Sensor channels sampled by the node.
const (
	ChannelVoltage     subscription.Name = 'v'
	ChannelTemperature subscription.Name = 't'
)

var (
	// ErrRunning is returned by Run when the node is already running.
	ErrRunning = errors.New("node already running")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("node closed")
)

// Deps are the collaborators of a Node. Transport, ADC and Temp are required.
type Deps struct {
	Transport transport.Transport
	ADC       hal.ADC
	Temp      hal.TempSensor

	// Poll controls the parent poll period. When nil the transport is used
	// if it implements mesh.PollController, otherwise changes are only logged.
	Poll mesh.PollController

	Clock     timer.Clock
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
	Feedback  func(key int)
	Indicator mesh.RoleIndicator
}

type roleSource interface {
	OnRoleChange(fn func(mesh.Role))
}

// Node is a running sensor node.
type Node struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	queue     *sched.Queue
	table     *subscription.Table
	filters   map[subscription.Name]*sample.Filter
	transport transport.Transport
	engine    *report.Engine
	notifier  *event.Notifier
	poller    *mesh.Poller
	roles     *mesh.RoleTracker
	adc       hal.ADC
	temp      hal.TempSensor

	voltageTimer *timer.Timer
	tempTimer    *timer.Timer
	sweepTimer   *timer.Timer
	fastTimer    *timer.Timer

	mu      sync.Mutex
	running bool
	closed  bool
}

// New builds a node from cfg. A peripheral that fails to initialize is a
// fatal hardware fault.
func New(cfg *config.Config, deps Deps) (*Node, error) {
	if deps.Transport == nil || deps.ADC == nil || deps.Temp == nil {
		return nil, errors.New("node: transport, adc and temperature sensor are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := deps.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	clock := deps.Clock
	if clock == nil {
		clock = timer.NewClock()
	}

	table, err := buildTable(cfg, log)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		log:     log,
		metrics: deps.Metrics,
		queue:   sched.New(cfg.Scheduler.QueueSize),
		table:   table,
		filters: map[subscription.Name]*sample.Filter{
			ChannelVoltage:     sample.NewFilter(sample.WithFloor(0)),
			ChannelTemperature: sample.NewFilter(),
		},
		adc:  deps.ADC,
		temp: deps.Temp,
	}

	n.transport = transport.NewDeferred(deps.Transport, n.queue, log.WithField("component", "transport"))

	ctl := deps.Poll
	if ctl == nil {
		if pc, ok := deps.Transport.(mesh.PollController); ok {
			ctl = pc
		} else {
			ctl = mesh.LogPollController{Log: log}
		}
	}
	n.poller = mesh.NewPoller(ctl, mesh.PollConfig{
		Default:     cfg.Poll.Default,
		Fast:        cfg.Poll.Fast,
		FastTimeout: cfg.Poll.FastTimeout,
	}, log.WithField("component", "poll"))
	n.fastTimer = timer.New(timer.SingleShot, n.queue, n.fastPollTimeout).WithLogger(log)
	n.poller.UseTimer(n.fastTimer)

	n.roles = mesh.NewRoleTracker(deps.Indicator, log.WithField("component", "mesh"))
	if rs, ok := deps.Transport.(roleSource); ok {
		rs.OnRoleChange(func(r mesh.Role) {
			if err := n.SetRole(r); err != nil {
				log.WithError(err).Warn("Dropped role change")
			}
		})
	}

	n.engine = report.New(table, n.transport, clock,
		report.WithLogger(log.WithField("component", "report")),
		report.WithMetrics(deps.Metrics),
	)
	n.notifier = event.New(n.transport, clock, n.poller,
		event.WithLogger(log.WithField("component", "event")),
		event.WithMetrics(deps.Metrics),
		event.WithFeedback(deps.Feedback),
	)

	if err := n.adc.Init(n.onWindow); err != nil {
		return nil, fmt.Errorf("failed to init adc: %w", hardwareFault(err))
	}
	if err := n.temp.Init(); err != nil {
		_ = n.adc.Close()
		return nil, fmt.Errorf("failed to init temperature sensor: %w", hardwareFault(err))
	}

	n.voltageTimer = timer.New(timer.Repeated, n.queue, n.sampleVoltage).WithLogger(log)
	n.tempTimer = timer.New(timer.Repeated, n.queue, n.readTemperature).WithLogger(log)
	n.sweepTimer = timer.New(timer.Repeated, n.queue, n.sweep).WithLogger(log)

	return n, nil
}

func hardwareFault(err error) error {
	if errors.Is(err, hal.ErrHardwareFault) {
		return err
	}
	return fmt.Errorf("%w: %v", hal.ErrHardwareFault, err)
}

func buildTable(cfg *config.Config, log logrus.FieldLogger) (*subscription.Table, error) {
	subs := make([]subscription.Subscription, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		sub := subscription.Subscription{
			Name:             subscription.Name(s.Name[0]),
			ReportableChange: s.ReportableChange,
			ReportInterval:   s.ReportInterval,
			ReadOnly:         !s.Writable,
			EnableOnInit:     !s.Muted,
		}
		if s.Writable {
			sub.OnSetValue = func(name subscription.Name, value int32) {
				log.WithFields(logrus.Fields{"sensor": name.String(), "value": value}).Info("Sensor written by peer")
			}
		}
		subs = append(subs, sub)
	}

	table, err := subscription.NewTable(subs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription table: %w", err)
	}
	return table, nil
}

// Run starts the timers and runs the loop until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.running {
		n.mu.Unlock()
		return ErrRunning
	}
	n.running = true
	n.mu.Unlock()

	defer func() {
		n.stopTimers()
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
	}()

	if err := n.startTimers(); err != nil {
		return err
	}

	n.log.WithFields(logrus.Fields{
		"firmware":      n.cfg.Firmware.Type,
		"version":       n.cfg.Firmware.Version,
		"sensors":       n.table.Len(),
		"child_timeout": n.cfg.Poll.ChildTimeout,
	}).Info("Node started")

	err := n.queue.Run(ctx, n.handle)
	if ctx.Err() != nil {
		n.log.Info("Node stopped")
		return nil
	}
	return err
}

// Step runs every queued event once and returns how many ran.
func (n *Node) Step() int {
	return n.queue.Drain(n.handle)
}

// Close stops the timers and releases the peripherals and the transport.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.stopTimers()
	return errors.Join(n.adc.Close(), n.transport.Close())
}

func (n *Node) startTimers() error {
	samples := n.cfg.ADC.SamplesPerChannel
	if err := n.voltageTimer.Start(n.cfg.Timers.Voltage / time.Duration(samples)); err != nil {
		return fmt.Errorf("failed to start voltage timer: %w", err)
	}
	if err := n.tempTimer.Start(n.cfg.Timers.Temperature); err != nil {
		return fmt.Errorf("failed to start temperature timer: %w", err)
	}
	if err := n.sweepTimer.Start(n.cfg.Timers.Subscription); err != nil {
		return fmt.Errorf("failed to start subscription timer: %w", err)
	}
	return nil
}

func (n *Node) stopTimers() {
	n.voltageTimer.Stop()
	n.tempTimer.Stop()
	n.sweepTimer.Stop()
	n.fastTimer.Stop()
}

// PressKey reports a button press. Safe from any goroutine.
func (n *Node) PressKey(key int) error {
	return n.post(sched.KeyPressed{Key: key})
}

// SetRole reports a mesh role change. Safe from any goroutine.
func (n *Node) SetRole(r mesh.Role) error {
	return n.post(sched.RoleChanged{Role: r})
}

// Write applies a peer's write to a sensor on the loop.
func (n *Node) Write(name subscription.Name, value int32) error {
	return n.queue.Submit(func() {
		if err := n.table.SetValue(name, value, subscription.OriginRemote); err != nil {
			n.log.WithError(err).WithField("sensor", name.String()).Warn("Rejected remote write")
		}
	})
}

func (n *Node) post(ev sched.Event) error {
	if err := n.queue.Post(ev); err != nil {
		n.metrics.QueueDropped(1)
		return err
	}
	return nil
}

// onWindow runs in interrupt context.
func (n *Node) onWindow(w sample.Window) {
	mean, err := sample.Mean(w)
	if err != nil {
		return
	}
	mean = n.filters[ChannelVoltage].Clamp(mean)
	if err := n.post(sched.SampleReady{Channel: ChannelVoltage, Value: mean}); err != nil {
		n.log.WithError(err).Warn("Dropped voltage sample")
	}
}

func (n *Node) sampleVoltage() {
	if err := n.adc.Sample(); err != nil {
		n.log.WithError(err).Error("Failed to sample voltage")
	}
}

func (n *Node) readTemperature() {
	raw, err := n.temp.Read()
	if err != nil {
		n.log.WithError(err).Error("Failed to read temperature")
		return
	}
	if err := n.post(sched.SampleReady{Channel: ChannelTemperature, Value: raw}); err != nil {
		n.log.WithError(err).Warn("Dropped temperature sample")
	}
}

func (n *Node) sweep() {
	if sent := n.engine.Sweep(); sent > 0 {
		n.log.WithField("sent", sent).Debug("Keep-alive reports sent")
	}
}

func (n *Node) fastPollTimeout() {
	if err := n.poller.Restore(); err != nil {
		n.log.WithError(err).Warn("Failed to restore poll period")
	}
}

func (n *Node) handle(ev sched.Event) {
	switch e := ev.(type) {
	case sched.SampleReady:
		n.onSample(e)
	case sched.KeyPressed:
		n.notifier.Trigger(e.Key)
	case sched.RoleChanged:
		n.roles.Update(e.Role)
	case sched.Work:
		if e.Fn != nil {
			e.Fn()
		}
	default:
		n.log.WithField("event", fmt.Sprintf("%T", ev)).Error("Unknown event")
	}
}

func (n *Node) onSample(e sched.SampleReady) {
	v := e.Value
	if f, ok := n.filters[e.Channel]; ok {
		v = f.Smooth(v)
	}

	log := n.log.WithFields(logrus.Fields{"sensor": e.Channel.String(), "value": v})
	switch e.Channel {
	case ChannelVoltage:
		log = log.WithField("millivolts", sample.VDDMillivolts(v))
	case ChannelTemperature:
		log = log.WithField("celsius", sample.DieCelsius(v))
	}
	log.Debug("Sample filtered")

	if _, err := n.engine.HandleSample(e.Channel, v); err != nil {
		log.WithError(err).Warn("Failed to handle sample")
	}
}

// Table returns the subscription table. It must only be read on the loop.
func (n *Node) Table() *subscription.Table {
	return n.table
}

// Notifier returns the key event notifier. It must only be read on the loop.
func (n *Node) Notifier() *event.Notifier {
	return n.notifier
}

// Role returns the last reported mesh role. It must only be read on the loop.
func (n *Node) Role() mesh.Role {
	return n.roles.Role()
}
