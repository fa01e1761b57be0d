package tcpstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func unclampedConfig() Config {
	cfg := DefaultConfig()
	cfg.MinRTO = time.Millisecond
	cfg.MaxRTO = time.Hour
	return cfg
}

func TestRTOEstimatorFirstSampleSeedsSrttAndRttvar(t *testing.T) {
	e := newRTOEstimator(unclampedConfig())
	e.sample(200 * time.Millisecond)

	require.Equal(t, 200*time.Millisecond, e.srtt)
	require.Equal(t, 100*time.Millisecond, e.rttvar, "rttvar should seed to half the first sample")

	wantRTO := e.srtt + 4*e.rttvar
	require.Equal(t, wantRTO, e.rto)
}

func TestRTOEstimatorSubsequentSampleUsesGains(t *testing.T) {
	e := newRTOEstimator(unclampedConfig())
	e.sample(200 * time.Millisecond)
	e.sample(220 * time.Millisecond)

	// srtt = srtt - srtt/8 + rtt/8 = 200 - 25 + 27.5 = 202.5ms
	wantSrtt := 200*time.Millisecond - 200*time.Millisecond/8 + 220*time.Millisecond/8
	require.Equal(t, wantSrtt, e.srtt)
}

func TestRTOEstimatorBackoffDoublesAndClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRTO = 2 * time.Second
	e := newRTOEstimator(cfg)
	e.rto = time.Second

	e.backoff()
	require.Equal(t, 2*time.Second, e.rto, "rto should double after one backoff")

	e.backoff()
	require.Equal(t, cfg.MaxRTO, e.rto, "rto should clamp to MaxRTO")
}

func TestRTOEstimatorClampsToMin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRTO = 500 * time.Millisecond
	e := newRTOEstimator(cfg)

	e.sample(time.Millisecond) // tiny RTT, would otherwise produce a tiny RTO
	require.GreaterOrEqual(t, e.rto, cfg.MinRTO)
}
