// Package supervisor owns process-level startup and shutdown: taking the
// already-validated battery profiles, dialing one Transport per channel,
// spawning each channel's Simulation Loop, and joining them on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asgard/cellbench/internal/metrics"
	"github.com/asgard/cellbench/internal/profile"
	"github.com/asgard/cellbench/internal/scpi"
	"github.com/asgard/cellbench/internal/simloop"
	"github.com/asgard/cellbench/internal/telemetry"
	"github.com/asgard/cellbench/internal/transport"
	"github.com/asgard/cellbench/internal/utils"
)

// Config parametrizes one Supervisor run. MaxConsecutiveErrors and
// VoltageDeadband are engine policy, not per-profile data (see spec's
// resolved Open Question); a zero value lets simloop apply its defaults.
type Config struct {
	Address              string
	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	MaxConsecutiveErrors int
	VoltageDeadband      float64
}

// ChannelFailure records why a single channel failed to come up; a startup
// failure on one channel never escapes the channel boundary into the
// others, so the Supervisor collects these rather than aborting outright.
type ChannelFailure struct {
	Channel int
	Err     error
}

// StartupError is returned by Connect when every configured channel failed
// to come up. Individual channel failures that leave at least one channel
// running are only logged, not returned as an error.
type StartupError struct {
	Failures []ChannelFailure
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("supervisor: all %d channel(s) failed to start", len(e.Failures))
}

// channelHandle bundles one running channel's owned resources so Run can
// join its loop and then close its Transport.
type channelHandle struct {
	channel   int
	loop      *simloop.Loop
	session   *scpi.Session
	transport *transport.Transport
}

// Supervisor connects one channel per profile and runs their Simulation
// Loops until external shutdown.
type Supervisor struct {
	cfg      Config
	registry *telemetry.Registry
	metrics  *metrics.Metrics
	log      *utils.Logger

	mu      sync.Mutex
	handles []*channelHandle
}

// New builds a Supervisor. registry and m may be shared with an HTTP API
// surface serving the same process.
func New(cfg Config, registry *telemetry.Registry, m *metrics.Metrics, log *utils.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, registry: registry, metrics: m, log: log}
}

// Connect loads nothing itself; it takes already-validated profiles (the
// caller is responsible for profile.LoadDir's duplicate-channel rejection,
// a configuration error distinct from a transport setup failure) and opens
// one independent Transport/Session/Loop per profile. A per-channel dial or
// init failure is logged and excluded from the running set; Connect only
// returns an error if every channel failed, per spec's "fatal overall"
// rule.
func (s *Supervisor) Connect(profiles []profile.Profile) error {
	var failures []ChannelFailure
	var handles []*channelHandle

	for _, p := range profiles {
		h, err := s.connectOne(p)
		if err != nil {
			s.log.Error("channel %d failed to start: %v", p.Channel, err)
			failures = append(failures, ChannelFailure{Channel: p.Channel, Err: err})
			continue
		}
		handles = append(handles, h)
	}

	if len(handles) == 0 {
		return &StartupError{Failures: failures}
	}

	s.mu.Lock()
	s.handles = handles
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) connectOne(p profile.Profile) (*channelHandle, error) {
	tr, err := transport.Dial(s.cfg.Address, s.cfg.DialTimeout, s.cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	session := scpi.NewSession(tr, p.Channel)
	chLog := s.log.WithChannel(p.Channel)
	loop := simloop.New(session, p, s.registry, s.metrics, chLog, s.cfg.MaxConsecutiveErrors, s.cfg.VoltageDeadband)

	if err := loop.Init(time.Now()); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("init: %w", err)
	}

	return &channelHandle{channel: p.Channel, loop: loop, session: session, transport: tr}, nil
}

// Run spawns every connected channel's Simulation Loop and blocks until ctx
// is canceled and every loop has returned. Each loop forces OUTP OFF on its
// own session before Run closes that channel's Transport.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	handles := s.handles
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *channelHandle) {
			defer wg.Done()
			h.loop.Run(ctx)
			if err := h.transport.Close(); err != nil {
				s.log.Error("channel %d transport close failed: %v", h.channel, err)
			}
		}(h)
	}
	wg.Wait()
}

// ChannelCount reports how many channels are actually running after
// Connect, which may be fewer than len(profiles) if some failed to start.
func (s *Supervisor) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
