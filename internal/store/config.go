package store

import "powermon/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/powermon/power.db"

	defaultDeviceCacheSize = 128
)

type Config struct {
	DBPath          string
	DeviceCacheSize int
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		DeviceCacheSize: defaultDeviceCacheSize,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.DeviceCacheSize < 0 {
		return errFactory.WithData(ErrInvalidConfig, "device cache size must not be negative")
	}
	return nil
}
