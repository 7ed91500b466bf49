package monitoring

import "errors"

var (
	ErrInvalidInterval    = errors.New("sampling interval must be positive")
	ErrInvalidRange       = errors.New("time range must be positive")
	ErrInvalidWindow      = errors.New("time window end is before start")
	ErrInvalidTimestamp   = errors.New("reading has no valid timestamp")
	ErrInvalidTemperature = errors.New("reading temperature is not finite")
	ErrInvalidReading     = errors.New("invalid reading")
	ErrInvalidSensor      = errors.New("invalid sensor")
	ErrEmptyPalette       = errors.New("palette has no colors")
	ErrInvalidColor       = errors.New("palette color must be #rrggbb")
)
