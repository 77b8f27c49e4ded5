package kafkasource

import "time"

type Config struct {
	Brokers      []string
	Topic        string
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}
