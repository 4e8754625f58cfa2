// Package battery implements the pure electrical model shared by every
// emulated channel: SoC to OCV interpolation, terminal voltage under load,
// a first-order RC voltage filter, and coulomb-counting integration. None
// of it touches the network or a clock; callers supply elapsed time.
package battery

import "sort"

// OCVPoint is one breakpoint of a SoC-to-open-circuit-voltage curve.
type OCVPoint struct {
	SoC     float64
	Voltage float64
}

// Curve is an ordered, ascending-in-SoC breakpoint list. Callers should
// build curves with NewCurve, which canonicalizes ascending order.
type Curve struct {
	points []OCVPoint
}

// NewCurve sorts points ascending by SoC and returns a Curve. It does not
// validate monotonicity or range; that is the Profile loader's job.
func NewCurve(points []OCVPoint) Curve {
	sorted := make([]OCVPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SoC < sorted[j].SoC })
	return Curve{points: sorted}
}

// Len reports the number of breakpoints.
func (c Curve) Len() int { return len(c.points) }

// Points returns the canonicalized breakpoints in ascending SoC order.
func (c Curve) Points() []OCVPoint {
	out := make([]OCVPoint, len(c.points))
	copy(out, c.points)
	return out
}

// OCV returns the open-circuit voltage at the given state of charge. Queries
// below the minimum breakpoint or above the maximum are clamped to the
// endpoint voltage rather than extrapolated.
func (c Curve) OCV(soc float64) float64 {
	n := len(c.points)
	if n == 0 {
		return 0
	}
	if n == 1 || soc <= c.points[0].SoC {
		return c.points[0].Voltage
	}
	if soc >= c.points[n-1].SoC {
		return c.points[n-1].Voltage
	}

	for i := 0; i < n-1; i++ {
		lo, hi := c.points[i], c.points[i+1]
		if soc >= lo.SoC && soc < hi.SoC {
			frac := (soc - lo.SoC) / (hi.SoC - lo.SoC)
			return lo.Voltage + (hi.Voltage-lo.Voltage)*frac
		}
	}
	return c.points[n-1].Voltage
}

// TerminalVoltage computes OCV(soc) - iMeas*rInternalOhm, clamped to
// [cutoffVoltage, maxVoltage]. Positive current is discharge and reduces
// terminal voltage under the stated sign convention.
func TerminalVoltage(ocv, iMeas, rInternalOhm, cutoffVoltage, maxVoltage float64) float64 {
	v := ocv - iMeas*rInternalOhm
	if v < cutoffVoltage {
		return cutoffVoltage
	}
	if v > maxVoltage {
		return maxVoltage
	}
	return v
}

// FilterVoltage applies one step of a first-order low-pass filter toward
// vTerminal, with time constant tau (seconds) and step dtSeconds. tau == 0
// falls through to direct assignment so there is no division by zero.
func FilterVoltage(vFiltPrev, vTerminal, tauSeconds, dtSeconds float64) float64 {
	if tauSeconds <= 0 {
		return vTerminal
	}
	if dtSeconds <= 0 {
		return vFiltPrev
	}
	alpha := dtSeconds / (tauSeconds + dtSeconds)
	return vFiltPrev + alpha*(vTerminal-vFiltPrev)
}

// IntegrateSoC advances state of charge by one coulomb-counting step of
// duration dtSeconds given measured current iMeas (positive = discharge)
// and nominal capacityAh. The result is clamped to [0,1]. Callers must skip
// this call entirely when dtSeconds <= 0 (a clock jump), rather than pass a
// non-positive dt, since this function does not special-case it.
func IntegrateSoC(socPrev, iMeas, dtSeconds, capacityAh float64) float64 {
	soc := socPrev - iMeas*dtSeconds/(3600*capacityAh)
	if soc < 0 {
		return 0
	}
	if soc > 1 {
		return 1
	}
	return soc
}

// ChargeState classifies the sign of measured current: a small deadband
// around zero reads as idle rather than flickering between charging and
// discharging.
type ChargeState string

const (
	ChargeStateCharging    ChargeState = "charging"
	ChargeStateDischarging ChargeState = "discharging"
	ChargeStateIdle        ChargeState = "idle"
)

// ClassifyChargeState buckets a measured current into a coarse direction,
// with a small deadband around zero to avoid flapping on measurement noise.
func ClassifyChargeState(iMeas float64) ChargeState {
	switch {
	case iMeas > 0.01:
		return ChargeStateDischarging
	case iMeas < -0.01:
		return ChargeStateCharging
	default:
		return ChargeStateIdle
	}
}
