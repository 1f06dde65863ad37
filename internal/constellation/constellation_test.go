package constellation

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/codes"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/modulation"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/trajectory"
	"github.com/star/gnsssynth/internal/transform"
)

const deg = math.Pi / 180

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func gpsSatellite(id int) *almanac.Satellite {
	return &almanac.Satellite{
		Constellation:            gnss.GPS,
		ID:                       id,
		OrbitType:                almanac.MEO,
		IsHealthy:                true,
		IsEnabled:                true,
		Week:                     2300,
		TimeOfApplicability:      319488,
		SqrtA:                    5153.6,
		Eccentricity:             0.005,
		Inclination:              0.96,
		LongitudeOfAscendingNode: -1.2,
		ArgumentOfPerigee:        0.8,
		MeanAnomaly:              2.1,
		RateOfRightAscension:     -8e-9,
		A0:                       1e-4,
		A1:                       1e-11,
	}
}

func mustSignal(t *testing.T, name string) gnss.Signal {
	t.Helper()
	sig, err := gnss.LookupSignal(name)
	require.NoError(t, err)
	return sig
}

func newGPSBase(t *testing.T, sats ...*almanac.Satellite) *Base {
	t.Helper()
	logger := testLogger()
	alm, err := almanac.NewBase(gnss.GPS, sats, logger)
	require.NoError(t, err)
	b, err := NewBase(alm, []gnss.Signal{mustSignal(t, "GPS_L1CA")}, Options{}, propagation.NewWorkerPool(2, logger), logger)
	require.NoError(t, err)
	return b
}

// subSatellitePoint returns the receiver on the ellipsoid directly beneath
// sat at t.
func subSatellitePoint(sat *almanac.Satellite, t time.Time) transform.Geodetic {
	pos, _ := sat.GetEcef(t)
	g := transform.ECEFToGeodetic(pos)
	g.Alt = 0
	return g
}

func TestNewBaseRejectsForeignSignal(t *testing.T) {
	logger := testLogger()
	alm, err := almanac.NewBase(gnss.GPS, nil, logger)
	require.NoError(t, err)

	_, err = NewBase(alm, []gnss.Signal{mustSignal(t, "GALILEO_E1")}, Options{}, propagation.NewWorkerPool(1, logger), logger)
	var mismatch *almanac.ConstellationMismatchError
	assert.ErrorAs(t, err, &mismatch)

	_, err = NewBase(alm, nil, Options{}, propagation.NewWorkerPool(1, logger), logger)
	assert.Error(t, err)
}

func TestObserveOverhead(t *testing.T) {
	sat := gpsSatellite(5)
	b := newGPSBase(t, sat)
	at := sat.Epoch()
	rx := subSatellitePoint(sat, at)
	pvt := trajectory.Pvt{Time: at, Position: rx.ECEF()}

	obs, err := b.Observe(sat, pvt, ElevationMask(10*deg))
	require.NoError(t, err)

	satPos, _ := sat.GetEcef(at)
	assert.Greater(t, obs.Elevation, 89*deg)
	assert.True(t, obs.Visible)
	assert.InDelta(t, satPos.Norm()-rx.ECEF().Norm(), obs.Range, 2000)
	assert.InDelta(t, obs.Range/gnss.SpeedOfLight, obs.TransitTime, 1e-9)

	so, ok := obs.Signal(mustSignal(t, "GPS_L1CA"))
	require.True(t, ok)
	clock := gnss.SpeedOfLight * obs.ClockBias
	delays := so.PseudoRange - obs.Range + clock
	assert.Greater(t, delays, 0.0)
	assert.Less(t, delays, 100.0)
	assert.InDelta(t, so.IonoDelay+so.TropoDelay, delays, 1e-6)
	assert.Less(t, so.CarrierRange, so.PseudoRange)
	assert.Less(t, math.Abs(so.Doppler), 1000.0)
}

func TestObserveDopplerSign(t *testing.T) {
	sat := gpsSatellite(5)
	b := newGPSBase(t, sat)
	at := sat.Epoch()
	under := subSatellitePoint(sat, at)
	rx := transform.Geodetic{Lat: under.Lat, Lon: under.Lon + 35*deg}
	mask := HorizonMask

	first, err := b.Observe(sat, trajectory.Pvt{Time: at, Position: rx.ECEF()}, mask)
	require.NoError(t, err)
	second, err := b.Observe(sat, trajectory.Pvt{Time: at.Add(time.Second), Position: rx.ECEF()}, mask)
	require.NoError(t, err)

	// The range rate matches the finite difference of the range.
	assert.InDelta(t, second.Range-first.Range, first.RangeRate, 1.0)

	// An approaching satellite has a positive Doppler.
	sig := mustSignal(t, "GPS_L1CA")
	so, _ := first.Signal(sig)
	assert.InDelta(t, -so.PseudoRangeRate/sig.Wavelength(0), so.Doppler, 1e-9)
	if first.RangeRate < -1 {
		assert.Positive(t, so.Doppler)
	} else if first.RangeRate > 1 {
		assert.Negative(t, so.Doppler)
	}
}

func TestMaskResolve(t *testing.T) {
	assert.InDelta(t, 0, HorizonMask.Resolve(0), 1e-12)
	assert.Less(t, HorizonMask.Resolve(10000), 0.0)
	assert.InDelta(t, 5*deg, ElevationMask(5*deg).Resolve(10000), 1e-12)
}

func TestObserveSeries(t *testing.T) {
	healthy := gpsSatellite(5)
	unhealthy := gpsSatellite(9)
	unhealthy.IsHealthy = false
	b := newGPSBase(t, healthy, unhealthy)

	at := healthy.Epoch()
	traj := trajectory.NewStatic(subSatellitePoint(healthy, at))
	pvts, err := traj.Samples(gnss.NewInterval(at, time.Second), 4)
	require.NoError(t, err)

	series, err := b.ObserveSeries(context.Background(), pvts, ElevationMask(10*deg))
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 5, series[0].PRN)
	assert.Equal(t, 4, series[0].Index)
	assert.Equal(t, len(pvts), series[0].Len())
	assert.True(t, series[0].AnyVisible())
}

func synthetic(idx int, mask float64, elevations ...float64) Series {
	s := Series{Index: idx, PRN: idx + 1}
	for _, e := range elevations {
		s.Observations = append(s.Observations, Observation{PRN: idx + 1, Elevation: e, Mask: mask, Visible: e >= mask})
	}
	return s
}

func indices(series []Series) []int {
	out := make([]int, len(series))
	for i, s := range series {
		out[i] = s.Index
	}
	return out
}

func TestGetVisibleSatsKeepsSettingSatellite(t *testing.T) {
	mask := 10 * deg
	// Above the mask for the first half of the slice, below afterwards.
	setting := synthetic(1, mask, 14*deg, 12*deg, 10.5*deg, 9*deg, 7*deg)
	rising := synthetic(2, mask, 6*deg, 8*deg, 9.5*deg, 11*deg, 13*deg)
	hidden := synthetic(3, mask, -5*deg, -4*deg, -3*deg, -2*deg, -1*deg)

	got := GetVisibleSats([]Series{setting, rising, hidden}, nil, VisibilityOptions{})
	assert.ElementsMatch(t, []int{1, 2}, indices(got))
	for _, s := range got {
		assert.Equal(t, 5, s.Len(), "satellite %d rendered for the whole slice", s.Index)
	}

	got = GetVisibleSats([]Series{setting, rising, hidden}, nil, VisibilityOptions{IncludeBelowMask: true})
	assert.Equal(t, 3, indices(got)[2])
}

func TestGetVisibleSatsOrdering(t *testing.T) {
	mask := 5 * deg
	series := []Series{
		synthetic(0, mask, 80*deg),
		synthetic(1, mask, 60*deg),
		synthetic(2, mask, 40*deg),
		synthetic(3, mask, 20*deg),
	}

	got := GetVisibleSats(series, nil, VisibilityOptions{MaxSatellites: 3})
	assert.Equal(t, []int{0, 3, 1}, indices(got))

	got = GetVisibleSats(series, []int{2, 7}, VisibilityOptions{})
	assert.Equal(t, []int{2, 0, 3, 1}, indices(got))

	got = GetVisibleSats(series, []int{2}, VisibilityOptions{MaxSatellites: 1})
	assert.Equal(t, []int{2}, indices(got))
}

func TestRealWorldSignalLevel(t *testing.T) {
	prev := RealWorldSignalLevel(gnss.GPS, -10*deg)
	for e := -9.0; e <= 90; e++ {
		level := RealWorldSignalLevel(gnss.GPS, e*deg)
		assert.Greater(t, level, prev, "elevation %v", e)
		prev = level
	}
	assert.InDelta(t, 45-5.77, RealWorldSignalLevel(gnss.GPS, 0), 1e-9)
	assert.Less(t, RealWorldSignalLevel(gnss.NavIC, 45*deg), RealWorldSignalLevel(gnss.GPS, 45*deg))
}

func TestAmplitude(t *testing.T) {
	assert.InDelta(t, 1, Amplitude(45, 4e6, false), 1e-12)
	assert.InDelta(t, 0.1, Amplitude(25, 4e6, false), 1e-12)
	// 45 dB-Hz in 4 MHz: SNR per sample is 10^4.5 / 4e6.
	want := math.Sqrt(2 * math.Pow(10, 4.5) / 4e6)
	assert.InDelta(t, want, Amplitude(45, 4e6, true), 1e-12)
}

func TestKnots(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	k, err := NewKnots(gnss.NewInterval(start, time.Second), 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 15, k.Count)
	assert.Equal(t, 12, k.EndIndex())
	assert.InDelta(t, -0.2, k.Offset(0), 1e-12)
	assert.Equal(t, start.Add(-200*time.Millisecond), k.Interval().Start)
	assert.Equal(t, start.Add(1200*time.Millisecond), k.Interval().End)
	assert.Equal(t, start.Add(time.Second), k.Time(k.EndIndex()))

	_, err = NewKnots(gnss.NewInterval(start, 1050*time.Millisecond), 10, 2)
	assert.Error(t, err)
}

// constantSeries builds observations of one satellite with a fixed Doppler
// and pseudorange at every knot.
func constantSeries(k Knots, sig gnss.Signal, doppler, pseudorange float64) Series {
	s := Series{Index: 4, PRN: 5}
	for j := 0; j < k.Count; j++ {
		s.Observations = append(s.Observations, Observation{
			Time:      k.Time(j),
			PRN:       5,
			Elevation: 45 * deg,
			Visible:   true,
			Signals:   []SignalObservation{{Signal: sig, PseudoRange: pseudorange, Doppler: doppler}},
		})
	}
	return s
}

func TestCreateSignalGeneratorParametersPhaseHandoff(t *testing.T) {
	sig := mustSignal(t, "GPS_L1CA")
	b := newGPSBase(t)
	bank := modulation.NewBank(codes.NewLibrary(), codes.FixedNav{}, testLogger())
	channel := ChannelScope{CenterFrequency: sig.Frequency, SampleRate: 4e6, Bands: []gnss.Band{gnss.BandL1}}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	k1, err := NewKnots(gnss.NewInterval(start, time.Second), 10, 2)
	require.NoError(t, err)

	const doppler = 1234.25
	const pseudorange = 2.2e7
	first, err := b.CreateSignalGeneratorParameters(ParamsRequest{
		Knots:   k1,
		Series:  []Series{constantSeries(k1, sig, doppler, pseudorange)},
		Channel: channel,
		Bank:    bank,
	})
	require.NoError(t, err)
	require.Len(t, first.Signals, 1)
	p := first.Signals[0]
	require.False(t, p.IsEmpty())
	assert.InDelta(t, 1.0, p.Level, 1e-12)
	assert.InDelta(t, 0, p.Phase[k1.Pad].Eval(0), 1e-9)
	assert.InDelta(t, doppler, p.Phase[k1.Pad].Derivative(0), 1e-6)
	assert.InDelta(t, sig.ChipRate, p.Chip[k1.Pad].Derivative(0), 1e-3)
	assert.Len(t, first.Sequences, 1)

	key := PhaseKey{Constellation: gnss.GPS, PRN: 5, Signal: sig.Name}
	require.Contains(t, first.Handoff.Phases, key)
	assert.True(t, first.Handoff.Boundary.Equal(start.Add(time.Second)))
	assert.InDelta(t, 0.25, first.Handoff.Phases[key].InexactFloat64(), 1e-12)

	k2, err := NewKnots(gnss.NewInterval(start.Add(time.Second), time.Second), 10, 2)
	require.NoError(t, err)
	second, err := b.CreateSignalGeneratorParameters(ParamsRequest{
		Knots:   k2,
		Series:  []Series{constantSeries(k2, sig, doppler, pseudorange)},
		Channel: channel,
		Handoff: first.Handoff,
		Bank:    bank,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, second.Signals[0].Phase[k2.Pad].Eval(0), 1e-9)
	assert.InDelta(t, 0.5, second.Handoff.Phases[key].InexactFloat64(), 1e-12)

	// The chip position carries over the boundary.
	p2 := second.Signals[0]
	end := float64(first.Sequences[0].FirstElement) + p.Chip[k1.EndIndex()].Eval(0)
	begin := float64(second.Sequences[0].FirstElement) + p2.Chip[k2.Pad].Eval(0)
	assert.InDelta(t, end, begin, 1e-3)
}

func TestCreateSignalGeneratorParametersScope(t *testing.T) {
	sig := mustSignal(t, "GPS_L1CA")
	b := newGPSBase(t)
	bank := modulation.NewBank(codes.NewLibrary(), codes.FixedNav{}, testLogger())
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	k, err := NewKnots(gnss.NewInterval(start, time.Second), 10, 2)
	require.NoError(t, err)

	out, err := b.CreateSignalGeneratorParameters(ParamsRequest{
		Knots:   k,
		Series:  []Series{constantSeries(k, sig, 0, 2e7)},
		Channel: ChannelScope{CenterFrequency: 1176.45e6, SampleRate: 4e6, Bands: []gnss.Band{gnss.BandL5}},
		Bank:    bank,
	})
	require.NoError(t, err)
	require.Len(t, out.Signals, 1)
	assert.True(t, out.Signals[0].IsEmpty())
	assert.Empty(t, out.Handoff.Phases)

	short := constantSeries(k, sig, 0, 2e7)
	short.Observations = short.Observations[:3]
	_, err = b.CreateSignalGeneratorParameters(ParamsRequest{
		Knots:   k,
		Series:  []Series{short},
		Channel: ChannelScope{CenterFrequency: sig.Frequency, SampleRate: 4e6},
		Bank:    bank,
	})
	assert.Error(t, err)
}

func TestPhaseHandoffBoundary(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC)
	key := PhaseKey{Constellation: gnss.GPS, PRN: 1, Signal: "GPS_L1CA"}
	h := PhaseHandoff{Boundary: at, Phases: map[PhaseKey]decimal.Decimal{key: decimal.RequireFromString("0.75")}}

	assert.Equal(t, "0.75", h.Phase(at, key).String())
	assert.True(t, h.Phase(at.Add(time.Second), key).IsZero())

	other := PhaseKey{Constellation: gnss.GPS, PRN: 2, Signal: "GPS_L1CA"}
	merged := h.Merge(PhaseHandoff{Boundary: at, Phases: map[PhaseKey]decimal.Decimal{other: decimal.NewFromFloat(0.5)}})
	assert.Len(t, merged.Phases, 2)
}

func TestCreateSignalGeneratorParametersQuadratureClock(t *testing.T) {
	b2a := mustSignal(t, "BEIDOU_B2a")
	slow := b2a
	slow.Name = "BEIDOU_B2a_SLOWPILOT"
	slow.PilotChipRate = b2a.ChipRate / 2
	slow.PilotCodeLength = b2a.CodeLength / 2

	logger := testLogger()
	alm, err := almanac.NewBase(gnss.BeiDou, nil, logger)
	require.NoError(t, err)
	b, err := NewBase(alm, []gnss.Signal{b2a, slow}, Options{}, propagation.NewWorkerPool(1, logger), logger)
	require.NoError(t, err)
	bank := modulation.NewBank(codes.NewLibrary(), codes.FixedNav{}, logger)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	k, err := NewKnots(gnss.NewInterval(start, time.Second), 10, 2)
	require.NoError(t, err)
	series := constantSeries(k, b2a, 0, 2.2e7)
	for j := range series.Observations {
		so := series.Observations[j].Signals[0]
		so.Signal = slow
		series.Observations[j].Signals = append(series.Observations[j].Signals, so)
	}

	out, err := b.CreateSignalGeneratorParameters(ParamsRequest{
		Knots:   k,
		Series:  []Series{series},
		Channel: ChannelScope{CenterFrequency: b2a.Frequency, SampleRate: 20e6},
		Bank:    bank,
	})
	require.NoError(t, err)
	require.Len(t, out.Signals, 2)
	require.Len(t, out.Sequences, 4)

	same := out.Signals[0]
	require.Len(t, same.ChipQ, len(same.Chip))
	assert.NotSame(t, &same.Chip[0], &same.ChipQ[0])
	assert.InDelta(t, same.Chip[k.Pad].Eval(0), same.ChipQ[k.Pad].Eval(0), 1e-9)

	p := out.Signals[1]
	require.Len(t, p.ChipQ, len(p.Chip))
	assert.NotSame(t, &p.Chip[0], &p.ChipQ[0])
	assert.InDelta(t, b2a.ChipRate, p.Chip[k.Pad].Derivative(0), 1e-2)
	assert.InDelta(t, b2a.ChipRate/2, p.ChipQ[k.Pad].Derivative(0), 1e-2)

	data, pilot := out.Sequences[2], out.Sequences[3]
	assert.Equal(t, codes.Pilot, pilot.Key.Component)
	assert.Len(t, p.SequenceQ, len(pilot.Chips))
	assert.InDelta(t, len(data.Chips)/2, len(pilot.Chips), 4)
	end := p.ChipQ[k.EndIndex()].Eval(0)
	assert.Less(t, end, float64(len(p.SequenceQ)))
	assert.Greater(t, end, float64(len(p.SequenceQ))/2)
}

func TestObserveSeriesUsesTransmissionEphemeris(t *testing.T) {
	sat := gpsSatellite(5)
	b := newGPSBase(t, sat)
	interval := gnss.GPS.Params().EphemerisInterval
	boundary := gnss.Floor(sat.Epoch(), interval).Add(interval)
	at := boundary.Add(10 * time.Millisecond)
	require.NoError(t, b.Almanac().UpdateAlmanacForTime(at))

	pvt := trajectory.Pvt{Time: at, Position: subSatellitePoint(sat, at).ECEF()}
	series, err := b.ObserveSeries(context.Background(), []trajectory.Pvt{pvt}, ElevationMask(10*deg))
	require.NoError(t, err)
	require.Len(t, series, 1)
	obs := series[0].Observations[0]
	require.Greater(t, obs.TransitTime, 0.01, "signal left before the ephemeris boundary")

	stats, err := b.Almanac().CacheStats()
	require.NoError(t, err)
	eph := stats[0]
	assert.Equal(t, 1, eph.Entries)
	assert.True(t, eph.NewestReference.Equal(boundary.Add(-interval)), "snapshot %s, want %s", eph.NewestReference, boundary.Add(-interval))
}
