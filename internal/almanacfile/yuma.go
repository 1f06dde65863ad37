// Package almanacfile loads broadcast almanacs in YUMA format: parsing,
// HTTP retrieval, an on-disk cache of recent downloads, and the store that
// holds the active dataset.
package almanacfile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/star/gnsssynth/internal/almanac"
	"github.com/star/gnsssynth/internal/gnss"
)

// YUMA transmits the week number modulo 1024.
const weekRollover = 1024

// ParseYuma reads YUMA almanac records from r. The truncated week number is
// resolved to the rollover period closest to ref. Malformed records are
// skipped with a warning log.
func ParseYuma(r io.Reader, c gnss.Constellation, ref time.Time, logger *slog.Logger) ([]*almanac.Satellite, error) {
	refWeek, _ := gnss.WeekAndSeconds(ref)

	scanner := bufio.NewScanner(r)
	var (
		sats   []*almanac.Satellite
		fields map[string]string
		header int
	)
	flush := func() {
		if fields == nil {
			return
		}
		sat, err := yumaRecord(fields, c, refWeek)
		if err != nil {
			logger.Warn("skipping malformed almanac record", "line_index", header, "error", err)
		} else {
			sats = append(sats, sat)
		}
		fields = nil
	}

	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		line++
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "*") {
			flush()
			fields = make(map[string]string)
			header = line
			continue
		}
		if fields == nil {
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		fields[yumaKey(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading almanac data: %w", err)
	}
	flush()

	return sats, nil
}

// yumaKey drops the unit suffix of a field label and lower-cases it:
// "Rate of Right Ascen(r/s)" becomes "rate of right ascen".
func yumaKey(label string) string {
	if i := strings.IndexByte(label, '('); i >= 0 {
		label = label[:i]
	}
	return strings.ToLower(strings.TrimSpace(label))
}

func yumaRecord(f map[string]string, c gnss.Constellation, refWeek int) (*almanac.Satellite, error) {
	var firstErr error
	num := func(key string) float64 {
		v, ok := f[key]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("missing field %q", key)
			}
			return 0
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %q: %w", key, err)
		}
		return x
	}
	optional := func(key string) float64 {
		if _, ok := f[key]; !ok {
			return 0
		}
		return num(key)
	}

	sat := &almanac.Satellite{
		Constellation:            c,
		ID:                       int(num("id")),
		IsEnabled:                true,
		Eccentricity:             num("eccentricity"),
		TimeOfApplicability:      num("time of applicability"),
		Inclination:              num("orbital inclination"),
		RateOfRightAscension:     num("rate of right ascen"),
		SqrtA:                    num("sqrt"),
		LongitudeOfAscendingNode: num("right ascen at week"),
		ArgumentOfPerigee:        num("argument of perigee"),
		MeanAnomaly:              num("mean anom"),
		A0:                       num("af0"),
		A1:                       num("af1"),
		MeanMotionDifference:     optional("mean motion diff"),
	}
	health := num("health")
	week := int(num("week"))
	if firstErr != nil {
		return nil, firstErr
	}
	if sat.ID < 1 || sat.ID > gnss.MaxSatellites {
		return nil, fmt.Errorf("PRN %d out of range", sat.ID)
	}
	if sat.SqrtA <= 0 || sat.Eccentricity < 0 || sat.Eccentricity >= 1 {
		return nil, fmt.Errorf("PRN %d: implausible orbit (sqrtA %v, e %v)", sat.ID, sat.SqrtA, sat.Eccentricity)
	}

	sat.Week = resolveWeek(week, refWeek)
	sat.IsHealthy = health == 0
	sat.OrbitType = almanac.ClassifyOrbit(sat.SqrtA, sat.Inclination)
	return sat, nil
}

// resolveWeek expands a week number modulo 1024 to the full week nearest
// refWeek. Weeks already above 1024 are returned unchanged.
func resolveWeek(week, refWeek int) int {
	if week >= weekRollover {
		return week
	}
	base := refWeek - refWeek%weekRollover
	best := base + week
	for _, cand := range []int{best - weekRollover, best + weekRollover} {
		if abs(cand-refWeek) < abs(best-refWeek) {
			best = cand
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
