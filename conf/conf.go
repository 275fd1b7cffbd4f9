package conf

import (
	"time"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/logger"
)

const (
	DefaultPartitions     = 4
	DefaultPollTimeout    = 50 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
	DefaultSendTimeout    = 2 * time.Second
)

// Config carries the engine settings. Partitions is the partition count used
// for repartition and changelog topics - it bounds the parallelism of the
// stateful stages.
type Config struct {
	Partitions     int
	PollTimeout    time.Duration
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ClientProps    map[string]string
	Logging        logger.Config
}

func (c *Config) ApplyDefaults() {
	if c.Partitions == 0 {
		c.Partitions = DefaultPartitions
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ClientProps == nil {
		c.ClientProps = map[string]string{}
	}
}

func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return errors.NewInvalidConfigurationError("partitions must be >= 1")
	}
	if c.PollTimeout < time.Millisecond {
		return errors.NewInvalidConfigurationError("poll-timeout must be >= 1ms")
	}
	return nil
}
