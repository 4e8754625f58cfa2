// Package simloop implements the per-channel Simulation Loop: it composes a
// scpi.Session and the pure battery model, advances state each tick, writes
// the commanded voltage, publishes telemetry, and enforces the safety and
// normal-discharge cutoff policy. Exactly one Loop ever writes to a given
// ChannelRuntime or issues commands on a given Session.
package simloop

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/asgard/cellbench/internal/battery"
	"github.com/asgard/cellbench/internal/metrics"
	"github.com/asgard/cellbench/internal/profile"
	"github.com/asgard/cellbench/internal/scpi"
	"github.com/asgard/cellbench/internal/telemetry"
	"github.com/asgard/cellbench/internal/utils"
)

// State is the per-channel connection/control state machine.
type State int

const (
	StateConnecting State = iota
	StateInitializing
	StateRunning
	StateRecovering
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PowerMode is informational state derived from SoC thresholds; it changes
// no control behavior but gives dashboard consumers an at-a-glance
// severity signal.
type PowerMode string

const (
	PowerModeNormal   PowerMode = "normal"
	PowerModeLow      PowerMode = "low"
	PowerModeCritical PowerMode = "critical"
)

const (
	lowSoCThreshold      = 0.20
	criticalSoCThreshold = 0.05
)

// DefaultMaxConsecutiveErrors is the named safety-cutoff policy constant.
const DefaultMaxConsecutiveErrors = 5

// DefaultVoltageDeadband is the named deadband policy constant, in volts.
const DefaultVoltageDeadband = 0.001

// Loop owns one channel's runtime state. It is not safe for concurrent use;
// exactly one goroutine (its own Run) ever touches it.
type Loop struct {
	channel  int
	session  *scpi.Session
	profile  profile.Profile
	registry *telemetry.Registry
	metrics  *metrics.Metrics
	log      *utils.Logger

	maxConsecutiveErrors int
	deadband             float64

	state             State
	soc               float64
	vFilt             float64
	iMeas             float64
	lastCommanded     float64
	consecutiveErrors int
	active            bool
	mode              PowerMode

	tStart            time.Time
	lastIterationTime time.Time
}

// New constructs a Loop bound to one profile's channel. Init must be called
// before Run.
func New(session *scpi.Session, p profile.Profile, registry *telemetry.Registry, m *metrics.Metrics, log *utils.Logger, maxConsecutiveErrors int, deadband float64) *Loop {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if deadband <= 0 {
		deadband = DefaultVoltageDeadband
	}
	return &Loop{
		channel:              p.Channel,
		session:              session,
		profile:              p,
		registry:             registry,
		metrics:              m,
		log:                  log,
		maxConsecutiveErrors: maxConsecutiveErrors,
		deadband:             deadband,
		state:                StateConnecting,
		mode:                 PowerModeNormal,
	}
}

// State reports the current connection/control state.
func (l *Loop) State() State { return l.state }

// Active reports whether the channel is still commandable.
func (l *Loop) Active() bool { return l.active }

// Init runs the Session's initialization handshake, seeds the filter at the
// full-SoC OCV point, and registers the channel with the Telemetry Registry.
func (l *Loop) Init(now time.Time) error {
	l.state = StateInitializing
	if err := l.session.Init(l.profile.CurrentLimitDischargeA); err != nil {
		return fmt.Errorf("simloop: channel %d init: %w", l.channel, err)
	}
	l.registry.AppendWire(l.channel, "->", "*CLS")
	l.registry.AppendWire(l.channel, "->", fmt.Sprintf("INST:NSEL %d", l.channel))
	l.registry.AppendWire(l.channel, "->", "OUTP OFF")
	l.registry.AppendWire(l.channel, "->", fmt.Sprintf("CURR %.3f", l.profile.CurrentLimitDischargeA))
	l.registry.AppendWire(l.channel, "->", "OUTP ON")

	l.soc = 1.0
	l.vFilt = l.profile.OCVCurve.OCV(1.0)
	l.lastCommanded = math.Inf(-1) // forces the first real SetVoltage write
	l.iMeas = 0
	l.active = true
	l.tStart = now
	l.lastIterationTime = now
	l.state = StateRunning

	l.registry.RegisterChannel(l.channel, l.profile.UpdateIntervalMs)
	if l.metrics != nil {
		chLabel := fmt.Sprintf("%d", l.channel)
		l.metrics.ChannelActive.WithLabelValues(chLabel).Set(1)
		l.metrics.SoC.WithLabelValues(chLabel).Set(l.soc)
		l.metrics.Voltage.WithLabelValues(chLabel).Set(l.vFilt)
	}
	l.registry.AppendEvent(l.channel, "initialized: capacity=%.3fAh cutoff=%.3fV max=%.3fV", l.profile.CapacityAh, l.profile.CutoffVoltage, l.profile.MaxVoltage)
	return nil
}

// Run drives the loop on its nominal period until ctx is canceled or a
// cutoff terminates the channel. It always attempts OUTP OFF on the way
// out, normal or exceptional.
func (l *Loop) Run(ctx context.Context) {
	period := time.Duration(l.profile.UpdateIntervalMs) * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.terminate(time.Now(), "shutdown_requested", "shutdown requested")
			return
		case now := <-ticker.C:
			if l.Step(now) {
				return
			}
		}
	}
}

// Step executes one iteration of the loop at wall-clock time now, returning
// true once the channel has terminated (normal cutoff, safety cutoff, or
// hard I/O error); on an already-terminated loop it returns true at once. Exported so tests can drive the loop with an injected
// sequence of timestamps instead of real sleeps, which is what makes the
// SoC/v_filt trajectory reproducible given a fixed measurement sequence.
func (l *Loop) Step(now time.Time) bool {
	if l.state == StateTerminated {
		return true
	}

	value, raw, outcome, err := l.session.MeasureCurrent()
	l.registry.AppendWire(l.channel, "->", "MEAS:CURR?")
	if err != nil {
		l.registry.AppendEvent(l.channel, "hard I/O error measuring current: %v", err)
		return l.terminate(now, "hard_io_error", fmt.Sprintf("hard I/O error measuring current: %v", err))
	}
	l.registry.AppendWire(l.channel, "<-", raw)

	switch outcome {
	case scpi.OutcomeOK:
		l.iMeas = value
		l.consecutiveErrors = 0
		l.state = StateRunning
		if cmdErr := l.integrateAndCommand(now); cmdErr != nil {
			return l.terminate(now, "hard_io_error", fmt.Sprintf("hard I/O error commanding voltage: %v", cmdErr))
		}
	case scpi.OutcomeErrorResponse:
		l.consecutiveErrors++
		l.state = StateRecovering
		l.registry.AppendEvent(l.channel, "measurement error response %q; issued *CLS recovery", raw)
		l.registry.AppendWire(l.channel, "->", "*CLS")
	case scpi.OutcomeParseFailure:
		l.consecutiveErrors++
		l.state = StateRecovering
		l.registry.AppendEvent(l.channel, "measurement parse failure: %q", raw)
	}

	if l.metrics != nil {
		l.metrics.ConsecutiveErrors.WithLabelValues(fmt.Sprintf("%d", l.channel)).Set(float64(l.consecutiveErrors))
	}

	l.publish(now)
	l.maybeLogModeTransition()
	return l.checkCutoffs(now)
}

// integrateAndCommand performs coulomb integration, OCV lookup, terminal
// voltage, RC filtering, and the deadbanded voltage write.
func (l *Loop) integrateAndCommand(now time.Time) error {
	dt := now.Sub(l.lastIterationTime).Seconds()
	if dt <= 0 {
		// Clock jumped backward or two ticks landed on the same instant:
		// skip integration this iteration but still rebase the baseline.
		l.lastIterationTime = now
		return nil
	}

	l.soc = battery.IntegrateSoC(l.soc, l.iMeas, dt, l.profile.CapacityAh)
	ocv := l.profile.OCVCurve.OCV(l.soc)
	vTerm := battery.TerminalVoltage(ocv, l.iMeas, l.profile.InternalResistanceOhm, l.profile.CutoffVoltage, l.profile.MaxVoltage)
	tauSeconds := l.profile.RCTimeConstantMs / 1000
	l.vFilt = battery.FilterVoltage(l.vFilt, vTerm, tauSeconds, dt)
	l.lastIterationTime = now

	if math.Abs(l.vFilt-l.lastCommanded) > l.deadband {
		if err := l.session.SetVoltage(l.vFilt); err != nil {
			return err
		}
		l.registry.AppendWire(l.channel, "->", fmt.Sprintf("VOLT %.3f", l.vFilt))
		l.lastCommanded = l.vFilt
		if l.metrics != nil {
			l.metrics.CommandsTotal.WithLabelValues(fmt.Sprintf("%d", l.channel), "VOLT").Inc()
		}
	}
	return nil
}

func (l *Loop) publish(now time.Time) {
	power := l.vFilt * l.iMeas
	l.registry.Publish(telemetry.Sample{
		Channel:     l.channel,
		Time:        now,
		ElapsedS:    now.Sub(l.tStart).Seconds(),
		SoC:         l.soc,
		VFilt:       l.vFilt,
		IMeas:       l.iMeas,
		Power:       power,
		ChargeState: battery.ClassifyChargeState(l.iMeas),
		Active:      l.active,
	})
	if l.metrics != nil {
		chLabel := fmt.Sprintf("%d", l.channel)
		l.metrics.SoC.WithLabelValues(chLabel).Set(l.soc)
		l.metrics.Voltage.WithLabelValues(chLabel).Set(l.vFilt)
		l.metrics.Current.WithLabelValues(chLabel).Set(l.iMeas)
	}
}

func (l *Loop) maybeLogModeTransition() {
	next := PowerModeNormal
	switch {
	case l.soc <= criticalSoCThreshold:
		next = PowerModeCritical
	case l.soc <= lowSoCThreshold:
		next = PowerModeLow
	}
	if next != l.mode {
		l.registry.AppendEvent(l.channel, "power mode %s -> %s at soc=%.4f", l.mode, next, l.soc)
		l.mode = next
	}
}

// checkCutoffs applies the normal-discharge and safety cutoff rules.
// Returns true on termination.
func (l *Loop) checkCutoffs(now time.Time) bool {
	if l.vFilt <= l.profile.CutoffVoltage && l.iMeas > 0 {
		return l.terminate(now, "normal_discharge_cutoff", fmt.Sprintf("normal discharge cutoff: v_filt=%.3f <= cutoff=%.3f", l.vFilt, l.profile.CutoffVoltage))
	}
	if l.consecutiveErrors >= l.maxConsecutiveErrors {
		return l.terminate(now, "safety_cutoff", fmt.Sprintf("safety cutoff: %d consecutive measurement failures", l.consecutiveErrors))
	}
	return false
}

// terminate forces OUTP OFF, marks the channel inactive, and absorbs into
// StateTerminated. Safe to call more than once; only the first call has any
// effect, satisfying "every path out of the loop attempts OUTP OFF exactly
// once before closing the Transport." reasonCode is a short, low-cardinality
// label for metrics; detail is the human-readable event message.
func (l *Loop) terminate(now time.Time, reasonCode, detail string) bool {
	if l.state == StateTerminated {
		return true
	}
	l.active = false
	l.state = StateTerminated

	if err := l.session.Shutdown(); err != nil {
		l.registry.AppendEvent(l.channel, "shutdown command failed during termination: %v", err)
	} else {
		l.registry.AppendWire(l.channel, "->", "OUTP OFF")
	}
	l.registry.AppendEvent(l.channel, "channel terminated: %s", detail)

	if l.metrics != nil {
		chLabel := fmt.Sprintf("%d", l.channel)
		l.metrics.ChannelActive.WithLabelValues(chLabel).Set(0)
		l.metrics.CutoffsTotal.WithLabelValues(chLabel, reasonCode).Inc()
	}
	return true
}
