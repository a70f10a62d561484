package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseErrorKind classifies why a payload could not be normalized.
type ParseErrorKind int

const (
	MalformedFields ParseErrorKind = iota + 1
	NumericFormat
)

func (k ParseErrorKind) String() string {
	switch k {
	case MalformedFields:
		return "malformed_fields"
	case NumericFormat:
		return "numeric_format"
	default:
		return "unknown"
	}
}

// ParseError is returned by Normalize for payloads that are not a valid
// x,y,z,timestamp tuple.
type ParseError struct {
	Kind    ParseErrorKind
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %v", e.Kind, e.Payload, e.Err)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Payload)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Sample is one tri-axial accelerometer reading.
type Sample struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	TimestampMillis int64   `json:"timestamp_ms"`
}

// MagnitudePoint is the scalar signal derived from a Sample.
type MagnitudePoint struct {
	TimestampMillis int64   `json:"timestamp_ms"`
	Magnitude       float64 `json:"magnitude"`
}

// Normalize parses a "x,y,z,timestampMillis" payload.
func Normalize(payload string) (Sample, error) {
	fields := strings.Split(payload, ",")
	if len(fields) != 4 {
		return Sample{}, &ParseError{
			Kind:    MalformedFields,
			Payload: payload,
			Err:     fmt.Errorf("expected 4 fields, got %d", len(fields)),
		}
	}

	var axes [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Sample{}, &ParseError{Kind: NumericFormat, Payload: payload, Err: err}
		}
		axes[i] = v
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return Sample{}, &ParseError{Kind: NumericFormat, Payload: payload, Err: err}
	}

	return Sample{X: axes[0], Y: axes[1], Z: axes[2], TimestampMillis: ts}, nil
}

// FormatSample renders s in the device wire format accepted by Normalize.
func FormatSample(s Sample) string {
	return strconv.FormatFloat(s.X, 'g', -1, 64) + "," +
		strconv.FormatFloat(s.Y, 'g', -1, 64) + "," +
		strconv.FormatFloat(s.Z, 'g', -1, 64) + "," +
		strconv.FormatInt(s.TimestampMillis, 10)
}

func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

func (s Sample) Point() MagnitudePoint {
	return MagnitudePoint{TimestampMillis: s.TimestampMillis, Magnitude: s.Magnitude()}
}
