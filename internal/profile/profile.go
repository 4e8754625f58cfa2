// Package profile loads and validates the externally supplied battery
// descriptors that parametrize each emulated channel.
package profile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asgard/cellbench/internal/battery"
)

// OCVBreakpoint is one (soc, voltage) point as it appears on the wire; the
// source may list points in any order.
type OCVBreakpoint struct {
	SoC     float64 `json:"soc"`
	Voltage float64 `json:"voltage"`
}

// raw mirrors the JSON document shape with DisallowUnknownFields enforcing
// a strict schema, per spec.
type raw struct {
	Name                   string          `json:"name"`
	Channel                int             `json:"channel"`
	CapacityAh             float64         `json:"capacity_ah"`
	InternalResistanceOhm  float64         `json:"internal_resistance_ohm"`
	CurrentLimitDischargeA float64         `json:"current_limit_discharge_a"`
	CurrentLimitChargeA    float64         `json:"current_limit_charge_a"`
	CutoffVoltage          float64         `json:"cutoff_voltage"`
	MaxVoltage             float64         `json:"max_voltage"`
	RCTimeConstantMs       float64         `json:"rc_time_constant_ms"`
	UpdateIntervalMs       int             `json:"update_interval_ms"`
	OCVCurve               []OCVBreakpoint `json:"ocv_curve"`
}

// Profile is an immutable, validated battery descriptor bound to one
// physical channel.
type Profile struct {
	Name                   string
	Channel                int
	CapacityAh             float64
	InternalResistanceOhm  float64
	CurrentLimitDischargeA float64
	CurrentLimitChargeA    float64
	CutoffVoltage          float64
	MaxVoltage             float64
	RCTimeConstantMs       float64
	UpdateIntervalMs       int
	OCVCurve               battery.Curve
}

// ValidationError aggregates every invariant violated while validating one
// profile document, collecting all problems instead of failing on the first.
type ValidationError struct {
	Source     string
	Violations []Violation
}

// Violation names one broken invariant.
type Violation struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile %q: %d violation(s)", e.Source, len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "; %s: %s", v.Field, v.Message)
	}
	return b.String()
}

func (e *ValidationError) add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// LoadFile reads one profile JSON document from path and validates it.
func LoadFile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(path, f)
}

// Load decodes and validates a single profile document from r. source is
// used only for error messages (typically the file path).
func Load(source string, r io.Reader) (Profile, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc raw
	if err := dec.Decode(&doc); err != nil {
		return Profile{}, fmt.Errorf("profile: decode %s: %w", source, err)
	}

	verr := &ValidationError{Source: source}
	validate(doc, verr)
	if len(verr.Violations) > 0 {
		return Profile{}, verr
	}

	points := make([]battery.OCVPoint, len(doc.OCVCurve))
	for i, p := range doc.OCVCurve {
		points[i] = battery.OCVPoint{SoC: p.SoC, Voltage: p.Voltage}
	}

	return Profile{
		Name:                   doc.Name,
		Channel:                doc.Channel,
		CapacityAh:             doc.CapacityAh,
		InternalResistanceOhm:  doc.InternalResistanceOhm,
		CurrentLimitDischargeA: doc.CurrentLimitDischargeA,
		CurrentLimitChargeA:    doc.CurrentLimitChargeA,
		CutoffVoltage:          doc.CutoffVoltage,
		MaxVoltage:             doc.MaxVoltage,
		RCTimeConstantMs:       doc.RCTimeConstantMs,
		UpdateIntervalMs:       doc.UpdateIntervalMs,
		OCVCurve:               battery.NewCurve(points),
	}, nil
}

func validate(doc raw, verr *ValidationError) {
	if strings.TrimSpace(doc.Name) == "" {
		verr.add("name", "must not be empty")
	}
	if doc.Channel < 1 || doc.Channel > 3 {
		verr.add("channel", "must be 1, 2, or 3")
	}
	if doc.CapacityAh <= 0 {
		verr.add("capacity_ah", "must be strictly positive")
	}
	if doc.InternalResistanceOhm < 0 {
		verr.add("internal_resistance_ohm", "must be >= 0")
	}
	if doc.CurrentLimitDischargeA <= 0 {
		verr.add("current_limit_discharge_a", "must be strictly positive")
	}
	if doc.CurrentLimitChargeA <= 0 {
		verr.add("current_limit_charge_a", "must be strictly positive")
	}
	if doc.CutoffVoltage <= 0 {
		verr.add("cutoff_voltage", "must be strictly positive")
	}
	if doc.MaxVoltage <= 0 {
		verr.add("max_voltage", "must be strictly positive")
	}
	if doc.CutoffVoltage > 0 && doc.MaxVoltage > 0 && doc.CutoffVoltage >= doc.MaxVoltage {
		verr.add("cutoff_voltage", "must be strictly less than max_voltage")
	}
	if doc.RCTimeConstantMs < 0 {
		verr.add("rc_time_constant_ms", "must be >= 0")
	}
	if doc.UpdateIntervalMs <= 0 {
		verr.add("update_interval_ms", "must be strictly positive")
	}
	validateOCVCurve(doc, verr)
}

func validateOCVCurve(doc raw, verr *ValidationError) {
	if len(doc.OCVCurve) < 2 {
		verr.add("ocv_curve", "must have at least two breakpoints")
		return
	}

	sorted := make([]OCVBreakpoint, len(doc.OCVCurve))
	copy(sorted, doc.OCVCurve)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SoC < sorted[j].SoC })

	seenZero, seenOne := false, false
	for i, p := range sorted {
		if p.SoC < 0 || p.SoC > 1 {
			verr.add("ocv_curve", fmt.Sprintf("breakpoint soc %v out of [0,1]", p.SoC))
		}
		if p.SoC == 0 {
			seenZero = true
		}
		if p.SoC == 1 {
			seenOne = true
		}
		if doc.CutoffVoltage > 0 && doc.MaxVoltage > 0 {
			if p.Voltage < doc.CutoffVoltage || p.Voltage > doc.MaxVoltage {
				verr.add("ocv_curve", fmt.Sprintf("breakpoint voltage %v outside [cutoff_voltage, max_voltage]", p.Voltage))
			}
		}
		if i > 0 && sorted[i-1].SoC >= p.SoC {
			verr.add("ocv_curve", "soc values must be strictly monotonic after canonicalization")
		}
	}
	if !seenZero {
		verr.add("ocv_curve", "must include the soc=0.0 endpoint")
	}
	if !seenOne {
		verr.add("ocv_curve", "must include the soc=1.0 endpoint")
	}
}

// LoadDir loads every *.json file directly under dir and rejects duplicate
// channel bindings across the set.
func LoadDir(dir string) ([]Profile, error) {
	entries, err := readDirJSON(dir)
	if err != nil {
		return nil, fmt.Errorf("profile: read dir %s: %w", dir, err)
	}

	var profiles []Profile
	seen := map[int]string{}
	for _, path := range entries {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if existing, ok := seen[p.Channel]; ok {
			return nil, &ValidationError{
				Source: path,
				Violations: []Violation{{
					Field:   "channel",
					Message: fmt.Sprintf("duplicate channel %d also claimed by %s", p.Channel, existing),
				}},
			}
		}
		seen[p.Channel] = path
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func readDirJSON(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
