package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/retinalab/gazecap/internal/db"
	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/monitoring"
)

// Window is a closed monotonic-timestamp range in milliseconds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// Store aggregates the four record sets over one database handle.
type Store struct {
	DB       *db.DB
	Sessions *SessionStore
	Events   *EventStore
	Samples  *SampleStore
	Chunks   *ChunkStore
}

// NewStore creates a Store over an opened, migrated database.
func NewStore(d *db.DB) *Store {
	return &Store{
		DB:       d,
		Sessions: NewSessionStore(d.DB),
		Events:   NewEventStore(d.DB),
		Samples:  NewSampleStore(d.DB),
		Chunks:   NewChunkStore(d.DB),
	}
}

// SessionData assembles the full reconstruction of a session for export.
// With windowed set, gaze samples are trimmed to the monotonic window bounded
// by the recording_start/recording_stop events so pre-roll and post-roll
// noise stays out of exported data; events and chunk records are always
// returned in full.
func (s *Store) SessionData(sessionID string, windowed bool) (*gaze.SessionData, error) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	var sampleWindow *Window
	if windowed {
		w, ok, err := s.Events.RecordingWindow(sessionID)
		if err != nil {
			return nil, err
		}
		if ok {
			sampleWindow = &w
		}
	}

	events, err := s.Events.BySession(sessionID, nil)
	if err != nil {
		return nil, err
	}
	samples, err := s.Samples.BySession(sessionID, sampleWindow)
	if err != nil {
		return nil, err
	}
	chunks, err := s.Chunks.RecordsBySession(sessionID)
	if err != nil {
		return nil, err
	}

	data := &gaze.SessionData{
		Session:     sess,
		Events:      events,
		GazeSamples: samples,
		VideoChunks: chunks,
	}
	data.Derived = deriveMetadata(data)
	return data, nil
}

func deriveMetadata(data *gaze.SessionData) gaze.DerivedMetadata {
	meta := gaze.DerivedMetadata{
		SampleCount: len(data.GazeSamples),
		EventCount:  len(data.Events),
		ChunkCount:  len(data.VideoChunks),
		DurationMs:  data.Session.DurationMs,
	}
	for _, c := range data.VideoChunks {
		meta.TotalVideoBytes += c.ByteSize
	}
	if len(data.GazeSamples) > 0 {
		var sum float64
		for _, s := range data.GazeSamples {
			sum += s.Confidence
		}
		avg := sum / float64(len(data.GazeSamples))
		meta.AvgConfidence = &avg
	}
	return meta
}

// QuotaInfo reports current storage usage against a configured budget.
type QuotaInfo struct {
	UsedBytes    int64   `json:"used_bytes"`
	BudgetBytes  int64   `json:"budget_bytes"`
	UsedFraction float64 `json:"used_fraction"`
}

func (q QuotaInfo) String() string {
	return fmt.Sprintf("%s of %s (%.0f%%)",
		humanize.Bytes(uint64(q.UsedBytes)), humanize.Bytes(uint64(q.BudgetBytes)), q.UsedFraction*100)
}

// Quota inspects current database size against budgetBytes.
func (s *Store) Quota(budgetBytes int64) (QuotaInfo, error) {
	var pageCount, pageSize int64
	if err := s.DB.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return QuotaInfo{}, fmt.Errorf("read page_count: %w", err)
	}
	if err := s.DB.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return QuotaInfo{}, fmt.Errorf("read page_size: %w", err)
	}

	info := QuotaInfo{
		UsedBytes:   pageCount * pageSize,
		BudgetBytes: budgetBytes,
	}
	if budgetBytes > 0 {
		info.UsedFraction = float64(info.UsedBytes) / float64(budgetBytes)
	}
	return info, nil
}

// CleanupPolicy configures the two-tier chunk retention policy.
type CleanupPolicy struct {
	// MaxChunkAge is the first-pass cutoff: chunks older than this are pruned.
	MaxChunkAge time.Duration
	// AggressiveAge is the escalated cutoff applied when usage remains above
	// TriggerFraction of the budget after the first pass.
	AggressiveAge time.Duration
	// BudgetBytes is the storage budget used to measure usage.
	BudgetBytes int64
	// TriggerFraction of the budget above which cleanup escalates.
	TriggerFraction float64
}

// DefaultCleanupPolicy keeps 24h of chunks, escalating to 1h when the store
// stays above 80% of a 2 GiB budget.
func DefaultCleanupPolicy() CleanupPolicy {
	return CleanupPolicy{
		MaxChunkAge:     24 * time.Hour,
		AggressiveAge:   time.Hour,
		BudgetBytes:     2 << 30,
		TriggerFraction: 0.8,
	}
}

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	PrunedFirstPass int64 `json:"pruned_first_pass"`
	PrunedEscalated int64 `json:"pruned_escalated"`
	Escalated       bool  `json:"escalated"`
	UsedBytesAfter  int64 `json:"used_bytes_after"`
	BudgetBytes     int64 `json:"budget_bytes"`
}

// Cleanup prunes old video chunks under the given policy. The first pass
// removes chunks older than MaxChunkAge; if usage remains above the trigger
// threshold it escalates to the AggressiveAge cutoff.
func (s *Store) Cleanup(ctx context.Context, now time.Time, policy CleanupPolicy) (CleanupResult, error) {
	var result CleanupResult
	result.BudgetBytes = policy.BudgetBytes

	pruned, err := s.Chunks.PruneOlderThan(now.Add(-policy.MaxChunkAge).UnixMilli())
	if err != nil {
		return result, err
	}
	result.PrunedFirstPass = pruned

	quota, err := s.Quota(policy.BudgetBytes)
	if err != nil {
		return result, err
	}

	if quota.UsedFraction > policy.TriggerFraction {
		result.Escalated = true
		pruned, err := s.Chunks.PruneOlderThan(now.Add(-policy.AggressiveAge).UnixMilli())
		if err != nil {
			return result, err
		}
		result.PrunedEscalated = pruned

		// Reclaim freed pages so the quota measurement reflects the prune.
		if _, err := s.DB.ExecContext(ctx, `VACUUM`); err != nil {
			monitoring.Logf("store: vacuum after escalated cleanup failed: %v", err)
		}
		quota, err = s.Quota(policy.BudgetBytes)
		if err != nil {
			return result, err
		}
	}

	result.UsedBytesAfter = quota.UsedBytes
	monitoring.Logf("store: cleanup pruned %d chunks (+%d escalated), usage now %s",
		result.PrunedFirstPass, result.PrunedEscalated, quota)
	return result, nil
}
