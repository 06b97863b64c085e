package crawler

// Stats holds the in-memory counters for one crawl. Not persisted beyond the
// owning ingest run's summary.
type Stats struct {
	PagesFetched  int            `json:"pages_fetched"`
	PagesSkipped  int            `json:"pages_skipped"`
	Errors        int            `json:"errors"`
	Timeouts      int            `json:"timeouts"`
	RobotsBlocked int            `json:"robots_blocked"`
	PerStatus     map[string]int `json:"per_status"`
	PerHost       map[string]int `json:"per_host"`
	SkipReasons   map[string]int `json:"skip_reasons"`
}

// NewStats returns zeroed crawl statistics.
func NewStats() *Stats {
	return &Stats{
		PerStatus:   map[string]int{},
		PerHost:     map[string]int{},
		SkipReasons: map[string]int{},
	}
}

func (s *Stats) skip(reason string) {
	s.PagesSkipped++
	s.SkipReasons[reason]++
}
