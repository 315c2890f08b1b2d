package poller

import (
	"testing"
	"time"
)

func TestSchedule_Interval(t *testing.T) {
	s, err := NewSchedule(ScheduleConfig{Interval: 30 * time.Second, MaxBackoff: 10 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Next(time.Now(), 0); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}

func TestSchedule_Jitter(t *testing.T) {
	s, _ := NewSchedule(ScheduleConfig{Interval: time.Minute, Jitter: 10 * time.Second})

	s.randN = func(n int64) int64 { return n - 1 }
	if got := s.Next(time.Now(), 0); got != 70*time.Second {
		t.Errorf("expected max jitter 70s, got %s", got)
	}
	s.randN = func(n int64) int64 { return 0 }
	if got := s.Next(time.Now(), 0); got != time.Minute {
		t.Errorf("expected no jitter 60s, got %s", got)
	}
}

func TestSchedule_Backoff(t *testing.T) {
	s, _ := NewSchedule(ScheduleConfig{Interval: time.Minute, MaxBackoff: 5 * time.Minute})

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 5 * time.Minute},
		{50, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := s.Next(time.Now(), tt.failures); got != tt.want {
			t.Errorf("failures=%d: expected %s, got %s", tt.failures, tt.want, got)
		}
	}
}

func TestSchedule_Cron(t *testing.T) {
	s, err := NewSchedule(ScheduleConfig{Cron: "*/5 * * * *", Interval: time.Minute, MaxBackoff: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 3, 10, 12, 1, 30, 0, time.UTC)
	if got := s.Next(now, 0); got != 3*time.Minute+30*time.Second {
		t.Fatalf("expected 3m30s until 12:05, got %s", got)
	}
	if got := s.Next(now, 1); got != 2*time.Minute {
		t.Fatalf("failures back off from the interval, got %s", got)
	}
}

func TestNewSchedule_InvalidCron(t *testing.T) {
	if _, err := NewSchedule(ScheduleConfig{Cron: "every tuesday"}); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestSchedule_MaxBackoffBelowInterval(t *testing.T) {
	s, _ := NewSchedule(ScheduleConfig{Interval: time.Minute, MaxBackoff: time.Second})
	if got := s.Next(time.Now(), 3); got != time.Minute {
		t.Fatalf("backoff should never be shorter than the interval, got %s", got)
	}
}
