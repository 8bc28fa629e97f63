package flight

import (
	"context"

	"flighttrace/internal/fix"
	"flighttrace/internal/geo"
)

// Activity thresholds, applied by Classify.
const (
	ActiveSpeedKnotsNoAltitude = 80.0
	ActiveSpeedKnots          = 25.0
	ActiveAGLFeet             = 250.0
)

// resolveAGL fills f.AltitudeAGLFeet from f.AltitudeMSLFeet via elev when
// the fix doesn't already carry an AGL reading of its own. It is a no-op
// (not an error) when elev has no coverage for the fix's position.
func resolveAGL(ctx context.Context, elev *geo.ElevationService, f *fix.Fix) error {
	if f.AltitudeAGLFeet != nil || f.AltitudeMSLFeet == nil || elev == nil {
		return nil
	}
	agl, err := elev.AGLFeet(float64(*f.AltitudeMSLFeet), f.Latitude, f.Longitude)
	if err != nil {
		return err
	}
	if agl == nil {
		return nil
	}
	v := int32(*agl)
	f.AltitudeAGLFeet = &v
	return nil
}

// Classify computes the per-fix is_active verdict and sets f.IsActive.
// When altitude information is present but the fix has no AGL reading of
// its own, it is lazily computed from elev.
func Classify(ctx context.Context, elev *geo.ElevationService, f *fix.Fix) (bool, error) {
	if err := resolveAGL(ctx, elev, f); err != nil {
		return false, err
	}

	speed := 0.0
	if f.GroundSpeedKnots != nil {
		speed = *f.GroundSpeedKnots
	}

	if f.AltitudeMSLFeet == nil && f.AltitudeAGLFeet == nil {
		f.IsActive = speed >= ActiveSpeedKnotsNoAltitude
		return f.IsActive, nil
	}

	agl := 0.0
	if f.AltitudeAGLFeet != nil {
		agl = float64(*f.AltitudeAGLFeet)
	}
	f.IsActive = speed >= ActiveSpeedKnots || agl >= ActiveAGLFeet
	return f.IsActive, nil
}
