package propagation

import "time"

// Keyframe holds the positions of all almanac satellites at a single point in time.
type Keyframe struct {
	Timestamp  time.Time           `json:"t"`
	Satellites []SatellitePosition `json:"satellites"`
}

// SatellitePosition holds a single satellite's ECEF state at a keyframe time.
type SatellitePosition struct {
	Constellation string     `json:"constellation"`
	PRN           int        `json:"prn"`
	Healthy       bool       `json:"healthy"`
	PositionECEF  [3]float64 `json:"p"` // meters
	VelocityECEF  [3]float64 `json:"v"` // m/s
}

// PropConfig holds keyframe configuration loaded from environment variables.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Keyframe interval (default: 30s)
	Horizon time.Duration // Keyframe horizon (default: 600s)
}
