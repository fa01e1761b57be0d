package tcpstack

import "github.com/Soya-Onishi/toytcp-go/metrics"

// ConnStats implements metrics.StatsSource: a point-in-time snapshot of
// every connection currently in the socket table.
func (e *Engine) ConnStats() []metrics.ConnStat {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := make([]metrics.ConnStat, 0, len(e.sockets))
	for _, s := range e.sockets {
		stat := metrics.ConnStat{
			ID:              s.id.String(),
			Status:          s.status.String(),
			SendWindow:      float64(s.send.window),
			RecvWindow:      float64(s.recv.window),
			UnackedSegments: float64(len(s.send.retransmitQueue)),
		}
		if s.send.estimator != nil {
			stat.SRTTSeconds = s.send.estimator.srtt.Seconds()
			stat.RTOSeconds = s.send.estimator.rto.Seconds()
		}
		stats = append(stats, stat)
	}
	return stats
}
