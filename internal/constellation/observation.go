// Package constellation turns almanac satellites and receiver trajectories
// into observations, selects the satellites to render per slice, and builds
// the generator parameters for them.
package constellation

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/propagation"
	"github.com/star/gnsssynth/internal/trajectory"
	"github.com/star/gnsssynth/internal/transform"
)

// SignalObservation holds the per-signal ranging quantities of one
// observation. Ranges in meters, rates in m/s, Doppler in Hz.
type SignalObservation struct {
	Signal          gnss.Signal
	PseudoRange     float64
	CarrierRange    float64
	PseudoRangeRate float64
	Doppler         float64
	IonoDelay       float64
	TropoDelay      float64
}

// Observation is the geometry between one satellite and one receiver
// sample. Satellite vectors are expressed in the ECEF frame of the reception
// instant. Immutable once built.
type Observation struct {
	Time     time.Time
	PRN      int
	Observer trajectory.Pvt
	// FrequencyChannel is the FDMA channel of GLONASS satellites.
	FrequencyChannel int

	SatellitePosition transform.Vec3
	SatelliteVelocity transform.Vec3
	LineOfSight       transform.Vec3 // unit vector, receiver to satellite
	Range             float64
	RangeRate         float64
	TransitTime       float64

	Azimuth   float64
	Elevation float64
	Mask      float64
	Visible   bool

	ClockBias float64 // seconds, at transmission
	Signals   []SignalObservation
}

// Signal returns the observation of sig, if present.
func (o *Observation) Signal(sig gnss.Signal) (SignalObservation, bool) {
	for _, s := range o.Signals {
		if s.Signal.Name == sig.Name {
			return s, true
		}
	}
	return SignalObservation{}, false
}

// Mask is an elevation cutoff. The zero value is the observer's true
// horizon.
type Mask struct {
	elevation float64
	explicit  bool
}

// HorizonMask selects the true horizon of the observer altitude.
var HorizonMask = Mask{}

// ElevationMask returns an explicit cutoff in radians.
func ElevationMask(rad float64) Mask {
	return Mask{elevation: rad, explicit: true}
}

// Resolve returns the cutoff for an observer at altitude alt meters.
func (m Mask) Resolve(alt float64) float64 {
	if m.explicit {
		return m.elevation
	}
	return transform.TrueHorizon(alt)
}

// Options configures a Base.
type Options struct {
	Mask     Mask
	Humidity float64
	Iono     transform.Klobuchar
	// DisableAtmosphere zeroes ionospheric and tropospheric delays.
	DisableAtmosphere bool
}

// Base observes the satellites of one constellation on a set of signals.
type Base struct {
	almanac  *almanac.Base
	signals  []gnss.Signal
	rotation transform.EarthRotation
	opts     Options
	pool     *propagation.WorkerPool
	logger   *slog.Logger
}

// NewBase creates a Base. Every signal must belong to the almanac's
// constellation.
func NewBase(alm *almanac.Base, signals []gnss.Signal, opts Options, pool *propagation.WorkerPool, logger *slog.Logger) (*Base, error) {
	c := alm.Constellation()
	for _, s := range signals {
		if s.Constellation != c {
			return nil, &almanac.ConstellationMismatchError{Expected: c, Actual: s.Constellation}
		}
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("constellation %s: no signals", c)
	}
	if opts.Humidity == 0 {
		opts.Humidity = transform.DefaultHumidity
	}
	if opts.Iono == (transform.Klobuchar{}) {
		opts.Iono = transform.DefaultKlobuchar
	}
	return &Base{
		almanac:  alm,
		signals:  signals,
		rotation: transform.NewEarthRotation(c.Params().EarthRotationRate),
		opts:     opts,
		pool:     pool,
		logger:   logger,
	}, nil
}

// Constellation returns the system observed.
func (b *Base) Constellation() gnss.Constellation { return b.almanac.Constellation() }

// Almanac returns the underlying orbital propagator.
func (b *Base) Almanac() *almanac.Base { return b.almanac }

// Signals returns the signals observed.
func (b *Base) Signals() []gnss.Signal { return b.signals }

// Observe computes the observation of sat from the receiver sample pvt. The
// light-time equation is solved with the Sagnac correction; the satellite
// is visible when its elevation is at or above mask.
func (b *Base) Observe(sat *almanac.Satellite, pvt trajectory.Pvt, mask Mask) (Observation, error) {
	if err := b.almanac.Check(sat); err != nil {
		return Observation{}, err
	}

	los, err := b.rotation.SagnacCorrection(pvt.Position, func(tau float64) (transform.State, error) {
		pos, vel := sat.GetEcefOffset(pvt.Time, -tau)
		return transform.State{Position: pos, Velocity: vel}, nil
	})
	if err != nil {
		return Observation{}, fmt.Errorf("observe %s: %w", sat, err)
	}

	observer := transform.NewObserver(pvt.Position)
	look := observer.Look(los.Satellite.Position)
	rangeRate := b.rotation.RangeRate(pvt.State(), los)
	tx := pvt.Time.Add(-seconds(los.TransitTime))
	bias := sat.ClockBias(tx)
	drift := sat.ClockDrift(tx)
	cutoff := mask.Resolve(observer.Geodetic.Alt)

	obs := Observation{
		Time:              pvt.Time,
		PRN:               sat.ID,
		Observer:          pvt,
		FrequencyChannel:  sat.FrequencyChannel,
		SatellitePosition: los.Satellite.Position,
		SatelliteVelocity: los.Satellite.Velocity,
		LineOfSight:       los.Unit(),
		Range:             los.Range,
		RangeRate:         rangeRate,
		TransitTime:       los.TransitTime,
		Azimuth:           look.Azimuth,
		Elevation:         look.Elevation,
		Mask:              cutoff,
		Visible:           look.Elevation >= cutoff,
		ClockBias:         bias,
		Signals:           make([]SignalObservation, 0, len(b.signals)),
	}

	var tropo float64
	_, sow := gnss.WeekAndSeconds(pvt.Time)
	sod := math.Mod(sow, 86400)
	if !b.opts.DisableAtmosphere {
		tropo = transform.TroposphereDelay(observer.Geodetic, look.Elevation, b.opts.Humidity)
	}
	for _, sig := range b.signals {
		var iono float64
		if !b.opts.DisableAtmosphere {
			iono = b.opts.Iono.Delay(observer.Geodetic, look, sig.CarrierFrequency(sat.FrequencyChannel), sod)
		}
		clock := gnss.SpeedOfLight * bias
		prr := rangeRate - gnss.SpeedOfLight*drift
		obs.Signals = append(obs.Signals, SignalObservation{
			Signal:          sig,
			PseudoRange:     los.Range - clock + iono + tropo,
			CarrierRange:    los.Range - clock - iono + tropo,
			PseudoRangeRate: prr,
			Doppler:         -prr / sig.Wavelength(sat.FrequencyChannel),
			IonoDelay:       iono,
			TropoDelay:      tropo,
		})
	}
	return obs, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
