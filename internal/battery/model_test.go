package battery

import "testing"

func twoPointCurve() Curve {
	return NewCurve([]OCVPoint{{SoC: 0.0, Voltage: 2.5}, {SoC: 1.0, Voltage: 3.4}})
}

func TestCurveOCV_Breakpoints(t *testing.T) {
	c := twoPointCurve()
	if got := c.OCV(0.0); got != 2.5 {
		t.Errorf("OCV(0.0) = %v, want 2.5", got)
	}
	if got := c.OCV(1.0); got != 3.4 {
		t.Errorf("OCV(1.0) = %v, want 3.4", got)
	}
}

func TestCurveOCV_Interpolation(t *testing.T) {
	c := twoPointCurve()
	got := c.OCV(0.5)
	want := 2.95
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("OCV(0.5) = %v, want %v", got, want)
	}
}

func TestCurveOCV_ClampsOutOfRange(t *testing.T) {
	c := twoPointCurve()
	if got := c.OCV(-0.1); got != 2.5 {
		t.Errorf("OCV(-0.1) = %v, want 2.5", got)
	}
	if got := c.OCV(1.1); got != 3.4 {
		t.Errorf("OCV(1.1) = %v, want 3.4", got)
	}
}

func TestCurveOCV_CanonicalizesUnsortedInput(t *testing.T) {
	c := NewCurve([]OCVPoint{
		{SoC: 1.0, Voltage: 3.4},
		{SoC: 0.5, Voltage: 3.0},
		{SoC: 0.0, Voltage: 2.5},
	})
	pts := c.Points()
	for i := 1; i < len(pts); i++ {
		if pts[i].SoC < pts[i-1].SoC {
			t.Fatalf("Points() not ascending: %v", pts)
		}
	}
}

func TestCurveOCV_BracketWithinRange(t *testing.T) {
	c := NewCurve([]OCVPoint{
		{SoC: 0.0, Voltage: 3.0},
		{SoC: 0.3, Voltage: 3.2},
		{SoC: 0.8, Voltage: 3.9},
		{SoC: 1.0, Voltage: 4.2},
	})
	got := c.OCV(0.5)
	lo, hi := 3.2, 3.9
	if got < lo || got > hi {
		t.Errorf("OCV(0.5) = %v, want within [%v,%v]", got, lo, hi)
	}
}

func TestTerminalVoltage_ClampsToRange(t *testing.T) {
	if v := TerminalVoltage(3.4, 100, 0.02, 2.5, 3.4); v != 2.5 {
		t.Errorf("heavy discharge should clamp to cutoff, got %v", v)
	}
	if v := TerminalVoltage(2.5, -100, 0.02, 2.5, 3.4); v != 3.4 {
		t.Errorf("heavy charge should clamp to max, got %v", v)
	}
}

func TestTerminalVoltage_DischargeReducesVoltage(t *testing.T) {
	ocv := 3.4
	v := TerminalVoltage(ocv, 1.0, 0.02, 2.5, 3.4)
	if v >= ocv {
		t.Errorf("discharge current should reduce terminal voltage below OCV, got %v >= %v", v, ocv)
	}
}

func TestFilterVoltage_ZeroTauAssignsDirectly(t *testing.T) {
	got := FilterVoltage(3.0, 3.4, 0, 0.1)
	if got != 3.4 {
		t.Errorf("FilterVoltage with tau=0 = %v, want 3.4", got)
	}
}

func TestFilterVoltage_ZeroDtSkipsIntegration(t *testing.T) {
	got := FilterVoltage(3.0, 3.4, 0.2, 0)
	if got != 3.0 {
		t.Errorf("FilterVoltage with dt=0 = %v, want unchanged 3.0", got)
	}
}

func TestFilterVoltage_ConvergesTowardTarget(t *testing.T) {
	v := 3.0
	for i := 0; i < 1000; i++ {
		v = FilterVoltage(v, 3.4, 0.2, 0.1)
	}
	if diff := v - 3.4; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("filter did not converge, got %v", v)
	}
}

func TestIntegrateSoC_DischargeDepletes(t *testing.T) {
	soc := IntegrateSoC(1.0, 1.0, 3600, 1.0)
	if diff := soc - 0.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("IntegrateSoC after 1Ah draw from 1Ah cell = %v, want 0", soc)
	}
}

func TestIntegrateSoC_ChargeIncreasesAndClamps(t *testing.T) {
	soc := IntegrateSoC(0.9, -10.0, 3600, 1.0)
	if soc != 1.0 {
		t.Errorf("IntegrateSoC should clamp at 1.0, got %v", soc)
	}
}

func TestIntegrateSoC_NeverLeavesUnitRange(t *testing.T) {
	socs := []float64{0.0, 0.001, 0.999, 1.0}
	for _, s := range socs {
		got := IntegrateSoC(s, 50.0, 100, 0.1)
		if got < 0 || got > 1 {
			t.Errorf("IntegrateSoC(%v,...) = %v, left [0,1]", s, got)
		}
	}
}

func TestClassifyChargeState(t *testing.T) {
	cases := []struct {
		i    float64
		want ChargeState
	}{
		{1.0, ChargeStateDischarging},
		{-1.0, ChargeStateCharging},
		{0.0, ChargeStateIdle},
	}
	for _, c := range cases {
		if got := ClassifyChargeState(c.i); got != c.want {
			t.Errorf("ClassifyChargeState(%v) = %v, want %v", c.i, got, c.want)
		}
	}
}
