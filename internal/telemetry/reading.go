package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Reading is a validated device payload. Nil fields were not reported.
type Reading struct {
	Acceleration *float64
	FallDetected *bool
	HeartRate    *float64
	SpO2         *float64
	Temperature  *float64
	Latitude     *float64
	Longitude    *float64
	Satellites   *int
}

// ParseReading validates a decoded key-value payload.
//
// Any subset of the recognized fields is accepted and unknown keys are
// ignored. A null value counts as not reported. A recognized field of the
// wrong shape yields a MALFORMED_INPUT CodedError and no Reading.
func ParseReading(fields map[string]any) (Reading, error) {
	var r Reading
	var err error

	floats := []struct {
		key string
		dst **float64
	}{
		{"acceleration", &r.Acceleration},
		{"heartRate", &r.HeartRate},
		{"spo2", &r.SpO2},
		{"temperature", &r.Temperature},
		{"latitude", &r.Latitude},
		{"longitude", &r.Longitude},
	}
	for _, f := range floats {
		raw, ok := fields[f.key]
		if !ok || raw == nil {
			continue
		}
		if *f.dst, err = toFloat(f.key, raw); err != nil {
			return Reading{}, err
		}
	}

	if raw, ok := fields["satellites"]; ok && raw != nil {
		if r.Satellites, err = toInt("satellites", raw); err != nil {
			return Reading{}, err
		}
	}

	if raw, ok := fields["fallDetected"]; ok && raw != nil {
		b, isBool := raw.(bool)
		if !isBool {
			return Reading{}, Malformed(fmt.Sprintf("fallDetected must be a boolean, got %T", raw), nil)
		}
		r.FallDetected = &b
	}

	return r, nil
}

func toFloat(key string, raw any) (*float64, error) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return nil, Malformed(key+" must be a number", err)
		}
		v = f
	default:
		return nil, Malformed(fmt.Sprintf("%s must be a number, got %T", key, raw), nil)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, Malformed(key+" must be a finite number", nil)
	}
	return &v, nil
}

func toInt(key string, raw any) (*int, error) {
	f, err := toFloat(key, raw)
	if err != nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, Malformed(fmt.Sprintf("%s must be an integer, got %v", key, *f), nil)
	}
	if *f > math.MaxInt32 || *f < math.MinInt32 {
		return nil, Malformed(key+" is out of range", nil)
	}
	n := int(*f)
	return &n, nil
}
