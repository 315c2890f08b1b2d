package poller

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/adhocore/gronx"
)

// ScheduleConfig configures when the next poll cycle starts.
type ScheduleConfig struct {
	Interval   time.Duration
	Jitter     time.Duration // random extra delay in [0, Jitter]
	Cron       string        // replaces Interval when set
	MaxBackoff time.Duration
}

// Schedule computes the wait between poll cycles. After failed fetches the
// wait doubles per consecutive failure, capped at MaxBackoff.
type Schedule struct {
	interval   time.Duration
	jitter     time.Duration
	cron       string
	maxBackoff time.Duration
	randN      func(n int64) int64
}

func NewSchedule(cfg ScheduleConfig) (*Schedule, error) {
	if cfg.Cron != "" && !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cfg.Cron)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	return &Schedule{
		interval:   cfg.Interval,
		jitter:     cfg.Jitter,
		cron:       cfg.Cron,
		maxBackoff: cfg.MaxBackoff,
		randN:      rand.Int64N,
	}, nil
}

// Next returns how long to wait after a cycle that ended at now.
// failures is the number of consecutive cycles whose fetch failed.
func (s *Schedule) Next(now time.Time, failures int) time.Duration {
	if failures > 0 {
		return s.backoff(failures)
	}
	if s.cron != "" {
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err == nil {
			return next.Sub(now)
		}
	}
	return s.interval + s.jitterDelay()
}

func (s *Schedule) backoff(failures int) time.Duration {
	wait := s.interval
	for i := 0; i < failures && wait < s.maxBackoff; i++ {
		wait *= 2
	}
	return min(wait, s.maxBackoff)
}

func (s *Schedule) jitterDelay() time.Duration {
	if s.jitter <= 0 {
		return 0
	}
	return time.Duration(s.randN(int64(s.jitter) + 1))
}

// String describes the schedule for logs.
func (s *Schedule) String() string {
	if s.cron != "" {
		return "cron " + s.cron
	}
	if s.jitter > 0 {
		return fmt.Sprintf("every %s (+%s jitter)", s.interval, s.jitter)
	}
	return "every " + s.interval.String()
}
