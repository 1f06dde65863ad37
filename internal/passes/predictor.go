// Package passes predicts rise and set times of almanac satellites over a
// receiver position. It answers "which satellites will a recording see"
// before any samples are generated.
package passes

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Elevation float64   `json:"elevation"` // degrees above observer's horizon (0-90)
}

// PassEvent describes a single satellite pass over an observer location.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	Constellation string      `json:"constellation"`
	PRN           int         `json:"prn"`
	Passes        []PassEvent `json:"passes"`
	Error         string      `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction request.
type Request struct {
	Observer     transform.Geodetic
	Satellites   []*almanac.Satellite
	Start        time.Time
	HorizonHours float64
	MinElevation float64 // degrees
	MaxPasses    int
}

// Navigation orbits move slowly across the sky; the scan steps are sized
// for MEO and higher.
const (
	coarseStep      = 60 * time.Second
	fineStep        = 5 * time.Second
	groundTrackStep = 300 * time.Second
	minPassDur      = time.Minute
)

// Predict computes satellite passes for the given request.
// Each satellite is processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Satellites))
	sem := make(chan struct{}, runtime.NumCPU())
	obs := transform.NewObserverGeodetic(req.Observer)
	var wg sync.WaitGroup

	for i, sat := range req.Satellites {
		wg.Add(1)
		go func(idx int, s *almanac.Satellite) {
			defer wg.Done()
			results[idx] = SatellitePasses{Constellation: s.Constellation.String(), PRN: s.ID}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx].Error = "cancelled"
				return
			}

			passes, err := predictSatellite(ctx, req, obs, s)
			if err != nil {
				results[idx].Error = err.Error()
				return
			}
			results[idx].Passes = passes
		}(i, sat)
	}

	wg.Wait()
	return results
}

// predictSatellite finds all passes for a single satellite.
func predictSatellite(ctx context.Context, req Request, obs transform.Observer, sat *almanac.Satellite) ([]PassEvent, error) {
	if !(sat.SqrtA > 0) || sat.Eccentricity < 0 || sat.Eccentricity >= 1 {
		return nil, fmt.Errorf("%s: invalid orbit (sqrtA %v, e %v)", sat, sat.SqrtA, sat.Eccentricity)
	}

	end := req.Start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))
	var passes []PassEvent

	// Coarse scan: step through the time range looking for elevation > 0.
	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if ctx.Err() != nil {
			return passes, nil
		}

		el, _, _ := elevationAt(sat, obs, t)
		if el > 0 {
			pass, windowEnd := refinePass(ctx, sat, obs, t, req.Start, end, req.MinElevation)
			if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDur {
				passes = append(passes, *pass)
			}
			t = windowEnd.Add(coarseStep)
		} else {
			t = t.Add(coarseStep)
		}
	}

	return passes, nil
}

// refinePass does a fine-grained scan around a coarse-detected above-horizon
// region. It backs up to find the actual rise, then scans forward to find
// set. Returns the pass event and the time the window ends.
func refinePass(ctx context.Context, sat *almanac.Satellite, obs transform.Observer, coarseHit, windowStart, windowEnd time.Time, minElev float64) (*PassEvent, time.Time) {
	searchStart := coarseHit.Add(-coarseStep)
	if searchStart.Before(windowStart) {
		searchStart = windowStart
	}

	var (
		riseTime    time.Time
		setTime     time.Time
		riseAz      float64
		setAz       float64
		maxEl       float64
		maxElTime   time.Time
		maxElAz     float64
		wasAbove    bool
		foundRise   bool
		groundTrack []GroundTrackPoint
	)

	t := searchStart
	for t.Before(windowEnd) {
		if ctx.Err() != nil {
			break
		}

		el, az, pos := elevationAt(sat, obs, t)
		above := el >= minElev

		if above && !wasAbove {
			riseTime = t
			riseAz = az
			foundRise = true
			maxEl = el
			maxElTime = t
			maxElAz = az
		}

		if above && foundRise {
			if el > maxEl {
				maxEl = el
				maxElTime = t
				maxElAz = az
			}
			if t.Sub(riseTime)%groundTrackStep == 0 {
				geo := transform.ECEFToGeodetic(pos)
				groundTrack = append(groundTrack, GroundTrackPoint{
					Time:      t,
					Latitude:  geo.Lat * 180 / math.Pi,
					Longitude: geo.Lon * 180 / math.Pi,
					Altitude:  geo.Alt,
					Elevation: el,
				})
			}
		}

		if !above && wasAbove && foundRise {
			setTime = t
			setAz = az
			break
		}

		wasAbove = above
		t = t.Add(fineStep)
	}

	// Still above at windowEnd: close the pass there.
	if foundRise && setTime.IsZero() && wasAbove {
		el, az, _ := elevationAt(sat, obs, t)
		setTime = t
		setAz = az
		if el > maxEl {
			maxEl = el
			maxElTime = t
			maxElAz = az
		}
	}

	if !foundRise || setTime.IsZero() {
		return nil, t
	}

	return &PassEvent{
		StartTime:        riseTime,
		MaxElevationTime: maxElTime,
		EndTime:          setTime,
		DurationSeconds:  setTime.Sub(riseTime).Seconds(),
		MaxElevation:     maxEl,
		AzimuthAtMax:     maxElAz,
		StartAzimuth:     riseAz,
		EndAzimuth:       setAz,
		GroundTrack:      groundTrack,
	}, setTime
}

// elevationAt returns elevation and azimuth in degrees and the satellite
// ECEF position at t.
func elevationAt(sat *almanac.Satellite, obs transform.Observer, t time.Time) (float64, float64, transform.Vec3) {
	pos, _ := sat.GetEcef(t)
	la := obs.Look(pos)
	return la.Elevation * 180 / math.Pi, la.Azimuth * 180 / math.Pi, pos
}
