// Package reminders computes notification fire times for appointments and
// runs the delivery pass over the persisted queue.
package reminders

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is handed to the Scheduler and Processor explicitly; neither reads
// the environment.
type Config struct {
	// Offsets before the appointment start at which reminders fire.
	Offsets       []time.Duration
	AdminEmail    string
	PublicBaseURL string
	SMSEnabled    bool

	MaxAttempts  int
	RetryBackoff time.Duration
	BatchSize    int
	// Lease is how long a claimed item stays invisible to concurrent passes.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	return c
}

// ParseOffsets reads a comma separated list of minutes, e.g. "1440,60",
// returning unique offsets, largest first.
func ParseOffsets(raw string) ([]time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "1440,60"
	}
	seen := map[int]bool{}
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid reminder offset %q", part)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, time.Duration(n)*time.Minute)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}
