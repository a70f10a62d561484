package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"/dev-1/data/accelerometer", "/dev-1/data/accelerometer", true},
		{"/dev-1/data/accelerometer", "/dev-2/data/accelerometer", false},
		{"/+/data/accelerometer", "/dev-2/data/accelerometer", true},
		{"/+/data/accelerometer", "/dev-2/data/config", false},
		{"/dev-1/#", "/dev-1/data/config", true},
		{"/dev-1/#", "/dev-1", false},
		{"/dev-1/data", "/dev-1/data/config", false},
		{"/dev-1/data/+", "/dev-1/data", false},
		{"#", "/anything/at/all", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic))
		})
	}
}
