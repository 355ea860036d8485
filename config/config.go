package config

import "fmt"

type Config struct {
	Host string
	Port int

	// Detection model.
	ModelPath           string
	ModelInputSize      int
	ClassNames          []string
	ConfidenceThreshold float32
	IoUThreshold        float32

	// Accelerator pool.
	PoolSize          int
	AcquireTimeoutSec int
	// Substring matched against process command lines to identify
	// accelerator worker processes. Empty disables the reaper.
	WorkerPattern string

	// Per-stream pipeline.
	QueueSize             int
	OutputBufferSize      int
	RecognitionIntervalMS int
	JoinTimeoutSec        int
	ShowTimestamp         bool

	// Stream lifecycle.
	DefaultLifetimeMin int
	SweepIntervalSec   int

	// Device monitor.
	DeviceMonitorIntervalSec int
	DeviceInfoPath           string
	DeviceSensorPrefix       string

	// Alerting. DatabaseDSN empty disables history and web push.
	DatabaseDSN            string
	PushSubscriber         string
	NotifyConfidence       float32
	NotifyCooldownSec      int
	NotificationHoursStart int
	NotificationHoursEnd   int
	SnapshotDir            string
	SnapshotMaxCount       int

	StaticDir string
	LogLevel  string
}

// Default returns the configuration used when no config file is present.
// File values overwrite these field by field.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  8000,
		ModelPath:             "models/fire_smoke.onnx",
		ModelInputSize:        640,
		ClassNames:            []string{"fire", "smoke"},
		ConfidenceThreshold:   0.5,
		IoUThreshold:          0.4,
		PoolSize:              3,
		AcquireTimeoutSec:     5,
		WorkerPattern:         "pproc_worker",
		QueueSize:             32,
		OutputBufferSize:      120,
		RecognitionIntervalMS: 100,
		JoinTimeoutSec:        2,
		ShowTimestamp:         true,
		DefaultLifetimeMin:    10,
		SweepIntervalSec:      60,

		DeviceMonitorIntervalSec: 5,
		DeviceInfoPath:           "device_info.json",

		NotifyConfidence:       0.9,
		NotifyCooldownSec:      60,
		NotificationHoursStart: 0,
		NotificationHoursEnd:   24,
		SnapshotDir:            "snapshots",
		SnapshotMaxCount:       1000,

		StaticDir: "./web",
		LogLevel:  "info",
	}
}

func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("PoolSize must be at least 1, got %d", c.PoolSize)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be at least 1, got %d", c.QueueSize)
	}
	if c.OutputBufferSize < 1 {
		return fmt.Errorf("OutputBufferSize must be at least 1, got %d", c.OutputBufferSize)
	}
	if c.ModelInputSize < 1 {
		return fmt.Errorf("ModelInputSize must be positive, got %d", c.ModelInputSize)
	}
	if len(c.ClassNames) == 0 {
		return fmt.Errorf("ClassNames must not be empty")
	}
	return nil
}
