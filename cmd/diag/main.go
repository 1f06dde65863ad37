package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/star/gnsssynth/internal/almanacfile"
	"github.com/star/gnsssynth/internal/gnss"
	"github.com/star/gnsssynth/internal/passes"
	"github.com/star/gnsssynth/internal/transform"
)

// diag prints predicted passes of every satellite in a YUMA almanac.
//
//	diag <almanac.alm> [constellation] [lat lon alt]
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Println("usage: diag <almanac.alm> [constellation] [lat lon alt]")
		os.Exit(2)
	}

	c := gnss.GPS
	if len(os.Args) > 2 {
		var err error
		if c, err = gnss.ParseConstellation(os.Args[2]); err != nil {
			fmt.Println("ERROR:", err)
			os.Exit(2)
		}
	}

	obs := transform.GeodeticDeg(39.7392, -104.9903, 1609)
	if len(os.Args) > 5 {
		var v [3]float64
		for i := range v {
			x, err := strconv.ParseFloat(os.Args[3+i], 64)
			if err != nil {
				fmt.Println("ERROR parsing observer:", err)
				os.Exit(2)
			}
			v[i] = x
		}
		obs = transform.GeodeticDeg(v[0], v[1], v[2])
	}

	now := time.Now().UTC()
	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Println("ERROR reading almanac:", err)
		os.Exit(1)
	}
	sats, err := almanacfile.ParseYuma(f, c, now, logger)
	f.Close()
	if err != nil {
		fmt.Println("ERROR parsing almanac:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d %s almanac records\n", len(sats), c)
	if len(sats) > 0 {
		fmt.Printf("First record: PRN %d week %d toa %.0f\n", sats[0].ID, sats[0].Week, sats[0].TimeOfApplicability)
	}
	fmt.Printf("Prediction start: %v\n", now)

	results := passes.Predict(context.Background(), passes.Request{
		Observer:     obs,
		Satellites:   sats,
		Start:        now,
		HorizonHours: 24,
		MinElevation: 5,
		MaxPasses:    10,
	})

	totalPasses := 0
	for _, sat := range results {
		if sat.Error != "" {
			fmt.Printf("  %s PRN %d: ERROR %s\n", sat.Constellation, sat.PRN, sat.Error)
			continue
		}
		fmt.Printf("  %s PRN %d: %d passes\n", sat.Constellation, sat.PRN, len(sat.Passes))
		totalPasses += len(sat.Passes)
		for j, p := range sat.Passes {
			fmt.Printf("    pass %d: start=%v maxEl=%.1f° dur=%.0fs\n",
				j, p.StartTime.Format(time.RFC3339), p.MaxElevation, p.DurationSeconds)
		}
	}
	fmt.Printf("\nTotal passes found: %d\n", totalPasses)
}
