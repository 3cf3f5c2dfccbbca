package codec

import "sync/atomic"

// Stats carries the decode-path performance counters. All fields are
// atomics so the health surface can snapshot them without locks.
type Stats struct {
	Frames           atomic.Int64
	ParseNanos       atomic.Int64
	CacheHits        atomic.Int64
	CacheMisses      atomic.Int64
	ClassifierHits   atomic.Int64
	ClassifierMisses atomic.Int64
	Fragments        atomic.Int64
	FramesDropped    atomic.Int64
	UnknownFrames    atomic.Int64
	DepthUpdates     atomic.Int64
	TradeBatches     atomic.Int64
}

type StatsSnapshot struct {
	Frames           int64 `json:"frames"`
	ParseNanos       int64 `json:"parse_nanos"`
	CacheHits        int64 `json:"cache_hits"`
	CacheMisses      int64 `json:"cache_misses"`
	ClassifierHits   int64 `json:"classifier_hits"`
	ClassifierMisses int64 `json:"classifier_misses"`
	Fragments        int64 `json:"fragments"`
	FramesDropped    int64 `json:"frames_dropped"`
	UnknownFrames    int64 `json:"unknown_frames"`
	DepthUpdates     int64 `json:"depth_updates"`
	TradeBatches     int64 `json:"trade_batches"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Frames:           s.Frames.Load(),
		ParseNanos:       s.ParseNanos.Load(),
		CacheHits:        s.CacheHits.Load(),
		CacheMisses:      s.CacheMisses.Load(),
		ClassifierHits:   s.ClassifierHits.Load(),
		ClassifierMisses: s.ClassifierMisses.Load(),
		Fragments:        s.Fragments.Load(),
		FramesDropped:    s.FramesDropped.Load(),
		UnknownFrames:    s.UnknownFrames.Load(),
		DepthUpdates:     s.DepthUpdates.Load(),
		TradeBatches:     s.TradeBatches.Load(),
	}
}
