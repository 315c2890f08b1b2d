package metrics

import "time"

// Pipeline holds the metrics recorded by the polling loop.
type Pipeline struct {
	Cycles        *Counter
	CycleErrors   *Counter
	Fetched       *Counter
	Replied       *Counter
	GenerateFails *Counter
	DeliverFails  *Counter
	DecodeFails   *Counter
	Skipped       *Counter
	Ignored       *Counter
	Abandoned     *Counter
	LastSuccess   *Gauge

	GenerationLatency *Histogram
	CycleDuration     *Histogram
}

// NewPipeline registers the pipeline metrics on c.
func NewPipeline(c *Collector) *Pipeline {
	return &Pipeline{
		Cycles:        c.Counter("poll_cycles_total", "Poll cycles run", ""),
		CycleErrors:   c.Counter("poll_cycle_errors_total", "Poll cycles that failed to fetch or settle", ""),
		Fetched:       c.Counter("inquiries_fetched_total", "Unread messages fetched", ""),
		Replied:       c.Counter("replies_sent_total", "Replies delivered", ""),
		GenerateFails: c.Counter("inquiry_failures_total", "Inquiries that failed, by stage", `stage="generate"`),
		DeliverFails:  c.Counter("inquiry_failures_total", "Inquiries that failed, by stage", `stage="deliver"`),
		DecodeFails:   c.Counter("inquiry_failures_total", "Inquiries that failed, by stage", `stage="decode"`),
		Skipped:       c.Counter("inquiries_skipped_total", "Messages already answered or abandoned", ""),
		Ignored:       c.Counter("inquiries_ignored_total", "Messages screened out before generation", ""),
		Abandoned:     c.Counter("inquiries_abandoned_total", "Messages given up on after repeated failures", ""),
		LastSuccess:   c.Gauge("last_successful_cycle_timestamp_seconds", "Unix time of the last cycle that fetched successfully", ""),

		GenerationLatency: c.Histogram("generation_latency_seconds", "Time to produce one reply", "",
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120}),
		CycleDuration: c.Histogram("poll_cycle_duration_seconds", "Wall time of one poll cycle", "",
			[]float64{1, 5, 15, 30, 60, 300}),
	}
}

// ObserveSince records the seconds elapsed since start.
func ObserveSince(h *Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
