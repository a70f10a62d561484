package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"accel-gap-monitor/models"

	"github.com/go-redis/redis/v8"
)

const (
	fieldDeviceID  = "device_id"
	fieldFrequency = "sampling_frequency"
	fieldThreshold = "exit_threshold"
)

type Options struct {
	Addr      string
	Password  string
	DB        int
	ReportTTL time.Duration
}

// RedisClient stores per-user device records and the latest gap report
// per device.
type RedisClient struct {
	client    *redis.Client
	reportTTL time.Duration
}

func NewRedisClient(ctx context.Context, opts Options) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	ttl := opts.ReportTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisClient{
		client:    rdb,
		reportTTL: ttl,
	}, nil
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func deviceKey(username string) string {
	return "device:" + username
}

func analysisKey(deviceID string) string {
	return "analysis:" + deviceID
}

// GetDeviceConfig returns the user's device record. Missing fields, or a
// missing record, come back as nil fields rather than an error.
func (rc *RedisClient) GetDeviceConfig(ctx context.Context, username string) (models.DeviceConfig, error) {
	cfg := models.DeviceConfig{Username: username}

	vals, err := rc.client.HGetAll(ctx, deviceKey(username)).Result()
	if err != nil {
		return cfg, err
	}

	if v, ok := vals[fieldDeviceID]; ok && v != "" {
		cfg.DeviceID = &v
	}
	if v, ok := vals[fieldFrequency]; ok && v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("decode %s for %s: %w", fieldFrequency, username, err)
		}
		cfg.SamplingFrequency = &f
	}
	if v, ok := vals[fieldThreshold]; ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("decode %s for %s: %w", fieldThreshold, username, err)
		}
		cfg.ExitThreshold = &t
	}

	return cfg, nil
}

func (rc *RedisClient) SaveDeviceConfig(ctx context.Context, username string, in models.DeviceConfigInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	return rc.client.HSet(ctx, deviceKey(username),
		fieldDeviceID, in.DeviceID,
		fieldFrequency, strconv.Itoa(*in.SamplingFrequency),
		fieldThreshold, strconv.FormatFloat(*in.ExitThreshold, 'f', -1, 64),
	).Err()
}

// ClearDeviceID unbinds the device but keeps frequency and threshold.
func (rc *RedisClient) ClearDeviceID(ctx context.Context, username string) error {
	return rc.client.HDel(ctx, deviceKey(username), fieldDeviceID).Err()
}

func (rc *RedisClient) SaveGapReport(ctx context.Context, report models.GapReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return rc.client.Set(ctx, analysisKey(report.DeviceID), data, rc.reportTTL).Err()
}

// GetGapReport returns nil when no report is cached for the device.
func (rc *RedisClient) GetGapReport(ctx context.Context, deviceID string) (*models.GapReport, error) {
	val, err := rc.client.Get(ctx, analysisKey(deviceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var report models.GapReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, err
	}

	return &report, nil
}
