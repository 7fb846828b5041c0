package geofence

import "errors"

// Sentinel kinds for resolver errors.
var (
	ErrNoSource     = errors.New("geofence source not configured")
	ErrEmptyFeature = errors.New("geofence feed contained no usable areas")
)
