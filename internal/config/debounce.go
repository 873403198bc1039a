package config

import (
	"fmt"
	"time"
)

// WatchDebounce parses Barycentre.WatchDebounce.
func (c *Config) WatchDebounce() (time.Duration, error) {
	if c.Barycentre.WatchDebounce == "" {
		return 2 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Barycentre.WatchDebounce)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("barycentre.watch_debounce %q is not a duration", c.Barycentre.WatchDebounce)
	}
	return d, nil
}
