// Package detector extracts a smoothed interbeat interval from a stream of
// pulse-sensor voltages.
//
// The detector is an adaptive double-threshold peak detector with dicrotic
// notch rejection. Its state is an explicit value threaded through Step, so
// every transition can be exercised without a clock or a sensor.
package detector

import "time"

// RateWindow is the number of intervals averaged into one estimate.
const RateWindow = 10

// Sample is a single voltage reading.
type Sample struct {
	// Value is the sensor reading in device units.
	Value float64
	// Interval is the time in seconds since the previous sample.
	Interval float64
	// Time is when the reading was taken.
	Time time.Time
}

// Params are the tuning constants of the detector. The dicrotic ratio and
// the stale timeout are empirical values carried over from the sensor
// firmware heuristics.
type Params struct {
	// Threshold is the voltage a pulse must cross.
	Threshold float64
	// Midpoint is the value peak and low envelopes reset to.
	Midpoint float64
	// InitialInterval is the interval assumed before any beat is seen, in seconds.
	InitialInterval float64
	// DicroticRatio is the fraction of the current interval that must pass
	// before a threshold crossing is accepted as a new beat.
	DicroticRatio float64
	// MinPulseInterval is the shortest accepted beat spacing, in seconds.
	MinPulseInterval float64
	// StaleTimeout resets the detector when no beat is seen for this many seconds.
	StaleTimeout float64
}

// DefaultParams returns the tuning used with the fingertip pulse sensor.
func DefaultParams() Params {
	return Params{
		Threshold:        0.60,
		Midpoint:         0.5,
		InitialInterval:  0.6, // 100 BPM
		DicroticRatio:    0.6,
		MinPulseInterval: 0.25,
		StaleTimeout:     2.5,
	}
}

// State is the mutable detector record. It is a plain value; Step returns
// the successor instead of modifying its argument.
type State struct {
	SampleCounter          float64
	LastPulseSampleCounter float64
	PeakVoltage            float64
	LowVoltage             float64
	Interval               float64
	Pulse                  bool
	FirstPulse             bool
	SecondPulse            bool
	Rates                  [RateWindow]float64
}

// Initial returns the state of a detector that has not seen a beat yet.
func Initial(p Params) State {
	return State{
		PeakVoltage: p.Midpoint,
		LowVoltage:  p.Midpoint,
		Interval:    p.InitialInterval,
		FirstPulse:  true,
	}
}

// Result describes what a single step produced.
type Result struct {
	// Interval is the averaged interbeat interval in seconds, valid when Emitted.
	Interval float64
	Emitted  bool
	// Reset reports that the stale-signal guard restored the initial state.
	Reset bool
	// Elapsed is the time since the last accepted beat when the step ran.
	Elapsed float64
}

// Step feeds one sample into the detector.
func Step(p Params, s State, v Sample) (State, Result) {
	s.SampleCounter += v.Interval
	elapsed := s.SampleCounter - s.LastPulseSampleCounter
	res := Result{Elapsed: elapsed}

	// A second bump too soon after the last beat is the dicrotic notch
	nonDicrotic := elapsed > s.Interval*p.DicroticRatio

	if v.Value < p.Threshold && nonDicrotic && v.Value < s.LowVoltage {
		s.LowVoltage = v.Value
	}
	if v.Value > p.Threshold && v.Value > s.PeakVoltage {
		s.PeakVoltage = v.Value
	}

	if elapsed > p.MinPulseInterval && v.Value > p.Threshold && !s.Pulse && nonDicrotic {
		s.Pulse = true
		s.Interval = elapsed
		s.LastPulseSampleCounter = s.SampleCounter

		if s.SecondPulse {
			s.SecondPulse = false
			for i := range s.Rates {
				s.Rates[i] = s.Interval
			}
		}

		// The first beat has nothing to measure against
		if s.FirstPulse {
			s.FirstPulse = false
			s.SecondPulse = true
			return s, res
		}

		copy(s.Rates[:], s.Rates[1:])
		s.Rates[RateWindow-1] = s.Interval
		res.Interval = mean(s.Rates)
		res.Emitted = true
	}

	if v.Value < p.Threshold && s.Pulse {
		s.Pulse = false
		s.LowVoltage = p.Threshold
		s.PeakVoltage = p.Threshold
	}

	if elapsed > p.StaleTimeout {
		s = reset(p, s)
		res.Reset = true
	}

	return s, res
}

// reset restores the initial state while keeping the running sample clock.
func reset(p Params, s State) State {
	fresh := Initial(p)
	fresh.SampleCounter = s.SampleCounter
	fresh.LastPulseSampleCounter = s.SampleCounter
	return fresh
}

func mean(rates [RateWindow]float64) float64 {
	sum := 0.0
	for _, r := range rates {
		sum += r
	}
	return sum / RateWindow
}
