// Package telemetry is the concurrent registry every Simulation Loop
// publishes into: a latest-sample map per channel plus two bounded
// append-only event streams consumed by out-of-core collaborators such as a
// dashboard or a recorder.
package telemetry

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/asgard/cellbench/internal/battery"
	"github.com/google/uuid"
)

const (
	// HumanStreamCapacity bounds the in-memory human-readable event stream.
	HumanStreamCapacity = 100
	// WireStreamCapacity bounds the in-memory wire-level record stream.
	WireStreamCapacity = 200
	// HistoryCapacity bounds each per-channel history ring buffer.
	HistoryCapacity = 200
	// staleFactor * update interval is how long a sample may go unrefreshed
	// before a consumer should treat it as stale.
	staleFactor = 3
)

// HistoryPoint is one (elapsed-seconds, value) entry in a ring buffer.
type HistoryPoint struct {
	TSeconds float64 `json:"t"`
	Value    float64 `json:"v"`
}

// ring is a fixed-capacity FIFO; pushing past capacity drops the oldest.
type ring struct {
	buf []HistoryPoint
	cap int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]HistoryPoint, 0, capacity), cap: capacity}
}

func (r *ring) push(p HistoryPoint) {
	if len(r.buf) >= r.cap {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, p)
}

func (r *ring) snapshot() []HistoryPoint {
	out := make([]HistoryPoint, len(r.buf))
	copy(out, r.buf)
	return out
}

// Sample is published by a Simulation Loop once per iteration.
type Sample struct {
	Channel     int                 `json:"channel"`
	Time        time.Time           `json:"t"`
	ElapsedS    float64             `json:"t_elapsed_s"`
	SoC         float64             `json:"soc"`
	VFilt       float64             `json:"v_filt"`
	IMeas       float64             `json:"i_meas"`
	Power       float64             `json:"power"`
	ChargeState battery.ChargeState `json:"charge_state"`
	Active      bool                `json:"active"`
}

// ChannelSnapshot is the full record exposed to dashboard-class consumers
// for one channel: the latest sample plus its bounded histories.
type ChannelSnapshot struct {
	Sample         Sample         `json:"sample"`
	Stale          bool           `json:"stale"`
	HistoryVoltage []HistoryPoint `json:"history_voltage"`
	HistoryCurrent []HistoryPoint `json:"history_current"`
	HistoryPower   []HistoryPoint `json:"history_power"`
}

// EventRecord is one human-readable, millisecond-timestamped log line.
type EventRecord struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"t"`
	Channel int       `json:"channel"`
	Message string    `json:"message"`
}

// WireRecord is one outgoing command or incoming reply.
type WireRecord struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"t"`
	Channel   int       `json:"channel"`
	Direction string    `json:"direction"` // "->" or "<-"
	Payload   string    `json:"payload"`
}

func (e EventRecord) Format() string {
	return fmt.Sprintf("%s | CH%d %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Channel, e.Message)
}

func (w WireRecord) Format() string {
	return fmt.Sprintf("%s | CH%d %s %s", w.Time.Format("2006-01-02 15:04:05.000"), w.Channel, w.Direction, w.Payload)
}

type channelState struct {
	updateIntervalMs int
	latest           Sample
	voltage          *ring
	current          *ring
	power            *ring
}

// Registry is the concurrent container every loop publishes into. All
// critical sections are short; no Transport I/O is ever attempted while a
// lock is held.
type Registry struct {
	mu       sync.RWMutex
	channels map[int]*channelState

	human []EventRecord
	wire  []WireRecord

	// best-effort file fan-out; nil disables it.
	humanFile io.Writer
	wireFile  io.Writer
	fileMu    sync.Mutex

	broadcaster *Broadcaster
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[int]*channelState)}
}

// RegisterChannel pre-declares a channel so its history buffers exist before
// the first Publish.
func (r *Registry) RegisterChannel(channel, updateIntervalMs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = &channelState{
		updateIntervalMs: updateIntervalMs,
		voltage:          newRing(HistoryCapacity),
		current:          newRing(HistoryCapacity),
		power:            newRing(HistoryCapacity),
	}
}

// SetFileSinks installs best-effort on-disk fan-out writers. Write failures
// are logged to the human stream, never propagated to a Simulation Loop.
func (r *Registry) SetFileSinks(humanFile, wireFile io.Writer) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	r.humanFile = humanFile
	r.wireFile = wireFile
}

// SetBroadcaster wires a live-push broadcaster; nil disables push.
func (r *Registry) SetBroadcaster(b *Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// Publish records the latest sample and appends to the three history
// buffers for its channel. A channel that was never registered gets its
// buffers created here, with no update interval, so it is never marked stale.
func (r *Registry) Publish(s Sample) {
	r.mu.Lock()
	cs, ok := r.channels[s.Channel]
	if !ok {
		cs = &channelState{voltage: newRing(HistoryCapacity), current: newRing(HistoryCapacity), power: newRing(HistoryCapacity)}
		r.channels[s.Channel] = cs
	}
	cs.latest = s
	cs.voltage.push(HistoryPoint{TSeconds: s.ElapsedS, Value: s.VFilt})
	cs.current.push(HistoryPoint{TSeconds: s.ElapsedS, Value: s.IMeas})
	cs.power.push(HistoryPoint{TSeconds: s.ElapsedS, Value: s.Power})
	broadcaster := r.broadcaster
	r.mu.Unlock()

	if broadcaster != nil {
		broadcaster.Publish(s)
	}
}

// Snapshot returns the current full record for one channel.
func (r *Registry) Snapshot(channel int) (ChannelSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.channels[channel]
	if !ok {
		return ChannelSnapshot{}, false
	}
	stale := cs.updateIntervalMs > 0 &&
		!cs.latest.Time.IsZero() &&
		time.Since(cs.latest.Time) > time.Duration(staleFactor*cs.updateIntervalMs)*time.Millisecond
	return ChannelSnapshot{
		Sample:         cs.latest,
		Stale:          stale,
		HistoryVoltage: cs.voltage.snapshot(),
		HistoryCurrent: cs.current.snapshot(),
		HistoryPower:   cs.power.snapshot(),
	}, true
}

// SnapshotAll returns every registered channel's snapshot keyed by channel.
func (r *Registry) SnapshotAll() map[int]ChannelSnapshot {
	r.mu.RLock()
	channels := make([]int, 0, len(r.channels))
	for ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	out := make(map[int]ChannelSnapshot, len(channels))
	for _, ch := range channels {
		if snap, ok := r.Snapshot(ch); ok {
			out[ch] = snap
		}
	}
	return out
}

// AppendEvent appends one human-readable event record, dropping the oldest
// on overflow. Never blocks.
func (r *Registry) AppendEvent(channel int, format string, args ...interface{}) EventRecord {
	rec := EventRecord{
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Channel: channel,
		Message: fmt.Sprintf(format, args...),
	}
	r.mu.Lock()
	r.human = pushBounded(r.human, rec, HumanStreamCapacity)
	humanFile := r.humanFile
	r.mu.Unlock()

	r.writeBestEffort(humanFile, rec.Format())
	return rec
}

// AppendWire appends one wire-level record, dropping the oldest on overflow.
func (r *Registry) AppendWire(channel int, direction, payload string) WireRecord {
	rec := WireRecord{
		ID:        uuid.NewString(),
		Time:      time.Now(),
		Channel:   channel,
		Direction: direction,
		Payload:   payload,
	}
	r.mu.Lock()
	r.wire = pushBounded(r.wire, rec, WireStreamCapacity)
	wireFile := r.wireFile
	r.mu.Unlock()

	r.writeBestEffort(wireFile, rec.Format())
	return rec
}

// Events returns a snapshot of the human event stream, oldest first.
func (r *Registry) Events() []EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventRecord, len(r.human))
	copy(out, r.human)
	return out
}

// WireRecords returns a snapshot of the wire stream, oldest first.
func (r *Registry) WireRecords() []WireRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WireRecord, len(r.wire))
	copy(out, r.wire)
	return out
}

func (r *Registry) writeBestEffort(w io.Writer, line string) {
	if w == nil {
		return
	}
	r.fileMu.Lock()
	_, err := io.WriteString(w, line+"\n")
	r.fileMu.Unlock()
	if err != nil {
		// Logged to the human stream only; never escalated to a loop.
		r.mu.Lock()
		r.human = pushBounded(r.human, EventRecord{
			ID: uuid.NewString(), Time: time.Now(), Channel: 0,
			Message: fmt.Sprintf("log sink write failed: %v", err),
		}, HumanStreamCapacity)
		r.mu.Unlock()
	}
}

func pushBounded[T any](s []T, v T, capacity int) []T {
	s = append(s, v)
	if len(s) > capacity {
		s = s[len(s)-capacity:]
	}
	return s
}
