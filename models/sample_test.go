package models

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	s, err := Normalize("0.5,-1.25,9.81,1700000000123")
	require.NoError(t, err)
	assert.Equal(t, Sample{X: 0.5, Y: -1.25, Z: 9.81, TimestampMillis: 1700000000123}, s)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    ParseErrorKind
	}{
		{"empty", "", MalformedFields},
		{"three fields", "1.0,2.0,3.0", MalformedFields},
		{"five fields", "1.0,2.0,3.0,4,5", MalformedFields},
		{"non numeric axis", "1.0,2.0,bad,1000", NumericFormat},
		{"float timestamp", "1.0,2.0,3.0,1000.5", NumericFormat},
		{"empty axis", "1.0,,3.0,1000", NumericFormat},
		{"json payload", `{"x":1,"y":2}`, MalformedFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Normalize(tt.payload)
			require.Error(t, err)
			assert.Equal(t, Sample{}, s)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, tt.payload, perr.Payload)
		})
	}
}

func TestFormatNormalizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		want := Sample{
			X:               rng.NormFloat64() * 20,
			Y:               rng.NormFloat64() * 20,
			Z:               rng.NormFloat64() * 20,
			TimestampMillis: rng.Int63n(1 << 45),
		}

		got, err := Normalize(FormatSample(want))
		require.NoError(t, err)
		assert.InDelta(t, want.X, got.X, 1e-12)
		assert.InDelta(t, want.Y, got.Y, 1e-12)
		assert.InDelta(t, want.Z, got.Z, 1e-12)
		assert.Equal(t, want.TimestampMillis, got.TimestampMillis)
	}
}

func TestSamplePoint(t *testing.T) {
	p := Sample{X: 3, Y: 4, Z: 12, TimestampMillis: 77}.Point()
	assert.Equal(t, int64(77), p.TimestampMillis)
	assert.InDelta(t, 13.0, p.Magnitude, 1e-12)

	zero := Sample{}.Magnitude()
	assert.False(t, math.IsNaN(zero))
	assert.Equal(t, 0.0, zero)
}
