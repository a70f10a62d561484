package models

import (
	"errors"
	"math"
	"strconv"
)

// DeviceConfig is the per-user device record. Nil fields are absent.
type DeviceConfig struct {
	Username          string   `json:"username"`
	DeviceID          *string  `json:"device_id,omitempty"`
	SamplingFrequency *int     `json:"sampling_frequency,omitempty"`
	ExitThreshold     *float64 `json:"exit_threshold,omitempty"`
}

// DeviceConfigInput is the body accepted when a user binds a device.
type DeviceConfigInput struct {
	DeviceID          string   `json:"device_id"`
	SamplingFrequency *int     `json:"sampling_frequency"`
	ExitThreshold     *float64 `json:"exit_threshold"`
}

func (in *DeviceConfigInput) Validate() error {
	if in.DeviceID == "" {
		return errors.New("device_id is required")
	}

	if in.SamplingFrequency == nil {
		return errors.New("sampling_frequency is required")
	}

	if *in.SamplingFrequency <= 0 {
		return errors.New("sampling_frequency must be positive")
	}

	if in.ExitThreshold == nil {
		return errors.New("exit_threshold is required")
	}

	if math.IsNaN(*in.ExitThreshold) || math.IsInf(*in.ExitThreshold, 0) {
		return errors.New("exit_threshold must be a finite number")
	}

	return nil
}

// HasDevice reports whether a device id is bound.
func (c DeviceConfig) HasDevice() bool {
	return c.DeviceID != nil && *c.DeviceID != ""
}

// AccelerometerTopic is where the device publishes samples.
func AccelerometerTopic(deviceID string) string {
	return "/" + deviceID + "/data/accelerometer"
}

// ConfigTopic is where the device listens for configuration pushes.
func ConfigTopic(deviceID string) string {
	return "/" + deviceID + "/data/config"
}

// ConfigPushPayload renders the key=value line understood by the firmware.
func ConfigPushPayload(frequency int, threshold float64) string {
	return "esp_m_frequency=" + strconv.Itoa(frequency) +
		", esp_exit_threshold=" + strconv.FormatFloat(threshold, 'f', -1, 64)
}
