// Package scpi owns the per-channel SCPI command set and response
// classification for a Rigol DP832-class triple-channel bench supply.
package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// Port is the minimal transport contract a Session depends on. The real
// implementation is *transport.Transport; tests substitute a scripted fake.
type Port interface {
	Send(command string) error
	Query(command string) (string, error)
	Close() error
}

// Outcome classifies the result of MeasureCurrent.
type Outcome int

const (
	// OutcomeOK means the reply parsed as a decimal current reading.
	OutcomeOK Outcome = iota
	// OutcomeErrorResponse means the reply contained "error" (any case);
	// the Session has already issued the *CLS recovery command.
	OutcomeErrorResponse
	// OutcomeParseFailure means the reply was neither numeric nor an
	// error response. No implicit recovery is issued.
	OutcomeParseFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeErrorResponse:
		return "error-response"
	case OutcomeParseFailure:
		return "parse-failure"
	default:
		return "unknown"
	}
}

// Session owns one Port, runs the channel-selection handshake exactly once,
// and is the sole issuer of wire commands for its bound channel. After
// initialization it uses exclusively channel-unqualified commands because
// selection has already been pinned for the lifetime of the connection.
type Session struct {
	port    Port
	channel int

	initialized bool
}

// NewSession binds port to channel. The handshake is not run until Init is
// called, so construction itself never touches the wire.
func NewSession(port Port, channel int) *Session {
	return &Session{port: port, channel: channel}
}

// Init runs the five-step initialization sequence exactly once per Session:
// *CLS, INST:NSEL <channel>, OUTP OFF, CURR <limit>, OUTP ON. Each step is
// an independent Send; any Send failure aborts and returns a hard error.
// Calling Init a second time is a no-op (idempotent), matching the
// requirement that INST:NSEL is emitted exactly once per connection.
func (s *Session) Init(currentLimitDischargeA float64) error {
	if s.initialized {
		return nil
	}
	steps := []string{
		"*CLS",
		fmt.Sprintf("INST:NSEL %d", s.channel),
		"OUTP OFF",
		fmt.Sprintf("CURR %s", formatThreeDecimals(currentLimitDischargeA)),
		"OUTP ON",
	}
	for _, cmd := range steps {
		if err := s.port.Send(cmd); err != nil {
			return fmt.Errorf("scpi: init step %q: %w", cmd, err)
		}
	}
	s.initialized = true
	return nil
}

// SetVoltage sends VOLT <v> with three fractional decimal digits. It never
// qualifies the command with a channel number; selection was pinned by Init.
func (s *Session) SetVoltage(v float64) error {
	return s.port.Send(fmt.Sprintf("VOLT %s", formatThreeDecimals(v)))
}

// MeasureCurrent queries MEAS:CURR? and classifies the reply. On an
// error-response it issues the *CLS recovery itself; the caller (the
// Simulation Loop) still increments its own consecutive-error counter.
func (s *Session) MeasureCurrent() (value float64, raw string, outcome Outcome, err error) {
	raw, err = s.port.Query("MEAS:CURR?")
	if err != nil {
		return 0, raw, OutcomeParseFailure, err
	}

	trimmed := strings.TrimSpace(raw)
	if v, perr := strconv.ParseFloat(trimmed, 64); perr == nil {
		return v, raw, OutcomeOK, nil
	}

	if containsErrorSubstring(trimmed) {
		if clsErr := s.port.Send("*CLS"); clsErr != nil {
			return 0, raw, OutcomeErrorResponse, clsErr
		}
		return 0, raw, OutcomeErrorResponse, nil
	}

	return 0, raw, OutcomeParseFailure, nil
}

// Shutdown forces the output off. It is safe to call on an uninitialized or
// already-shut-down Session; callers invoke it on every exit path, normal or
// exceptional, before closing the underlying Port.
func (s *Session) Shutdown() error {
	return s.port.Send("OUTP OFF")
}

// Close closes the underlying Port. Callers should Shutdown before Close.
func (s *Session) Close() error {
	return s.port.Close()
}

// containsErrorSubstring is the centralized, case-insensitive classifier
// heuristic: any reply containing "error" is treated as a protocol error.
// Kept as a single function so the heuristic can be tightened later without
// touching the Simulation Loop.
func containsErrorSubstring(s string) bool {
	return strings.Contains(strings.ToLower(s), "error")
}

func formatThreeDecimals(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
