package store

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/worldpam/internal/errs"
)

// MemStore is an in-memory Store, guarded by a single RWMutex rather than
// the bucket-level isolation bbolt gives BoltStore for free. It exists for
// tests and for short-lived tooling that has no need of a database file.
type MemStore struct {
	mu sync.RWMutex

	nextFeedID int64
	feedItems  []*FeedItem
	feedHash   map[string]int64 // sourceName|contentHash -> id

	nextSignalID int64
	signals      []*SignalValue

	nextEvalID int64
	evals      []*HypothesisEval

	sourceStatus map[string]*SourceStatus

	nextAuditID int64
	audit       []*AuditEvent
}

// NewMem constructs an empty MemStore.
func NewMem() *MemStore {
	return &MemStore{
		feedHash:     make(map[string]int64),
		sourceStatus: make(map[string]*SourceStatus),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) StoreFeedItem(item *FeedItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.SourceName + "|" + item.ContentHash
	if id, ok := s.feedHash[key]; ok {
		return id, nil
	}

	s.nextFeedID++
	item.ID = s.nextFeedID
	cp := *item
	s.feedItems = append(s.feedItems, &cp)
	s.feedHash[key] = item.ID
	return item.ID, nil
}

func (s *MemStore) StoreSignalValue(v *SignalValue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSignalID++
	v.ID = s.nextSignalID
	cp := *v
	s.signals = append(s.signals, &cp)
	return v.ID, nil
}

func (s *MemStore) StoreHypothesisEvaluation(e *HypothesisEval) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvalID++
	e.ID = s.nextEvalID
	cp := *e
	s.evals = append(s.evals, &cp)
	return e.ID, nil
}

func (s *MemStore) UpdateSourceStatus(source string, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.sourceStatus[source]
	if !ok {
		status = &SourceStatus{SourceName: source}
		s.sourceStatus[source] = status
	}

	now := time.Now().UTC()
	status.LastFetchAt = &now
	status.FetchCount++
	if success {
		status.LastSuccessAt = &now
		status.LastError = ""
	} else {
		status.ErrorCount++
		status.LastError = errMsg
	}
	return nil
}

func (s *MemStore) GetFeedItems(source string, days int, limit int) ([]*FeedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := cutoffFor(days)
	var out []*FeedItem
	for _, item := range s.feedItems {
		if source != "" && item.SourceName != source {
			continue
		}
		if !cutoff.IsZero() && item.FetchedAt.Before(cutoff) {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) GetSignalHistory(signal string, days int, country string) ([]*SignalValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := cutoffFor(days)
	var out []*SignalValue
	for _, v := range s.signals {
		if v.SignalName != signal {
			continue
		}
		if !cutoff.IsZero() && v.ComputedAt.Before(cutoff) {
			continue
		}
		if country != "" && v.Country != country {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.After(out[j].ComputedAt) })
	return out, nil
}

func (s *MemStore) GetHypothesisHistory(hyp string, days int, country string) ([]*HypothesisEval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := cutoffFor(days)
	var out []*HypothesisEval
	for _, e := range s.evals {
		if e.HypothesisName != hyp {
			continue
		}
		if !cutoff.IsZero() && e.EvaluatedAt.Before(cutoff) {
			continue
		}
		if country != "" && e.Country != country {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatedAt.After(out[j].EvaluatedAt) })
	return out, nil
}

func (s *MemStore) GetSourceStatus(source string) (*SourceStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.sourceStatus[source]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "source_status", Name: source}
	}
	cp := *status
	return &cp, nil
}

func (s *MemStore) ListSourceStatus() ([]*SourceStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SourceStatus, 0, len(s.sourceStatus))
	for _, status := range s.sourceStatus {
		cp := *status
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) CleanupOldData(days int) (CleanupCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts CleanupCounts
	// days=0 means "older than now" here, matching BoltStore.
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	keepFeed := s.feedItems[:0:0]
	for _, item := range s.feedItems {
		if item.FetchedAt.Before(cutoff) {
			counts.FeedItems++
			delete(s.feedHash, item.SourceName+"|"+item.ContentHash)
			continue
		}
		keepFeed = append(keepFeed, item)
	}
	s.feedItems = keepFeed

	keepSignals := s.signals[:0:0]
	for _, v := range s.signals {
		if v.ComputedAt.Before(cutoff) {
			counts.Signals++
			continue
		}
		keepSignals = append(keepSignals, v)
	}
	s.signals = keepSignals

	keepEvals := s.evals[:0:0]
	for _, e := range s.evals {
		if e.EvaluatedAt.Before(cutoff) {
			counts.Evaluations++
			continue
		}
		keepEvals = append(keepEvals, e)
	}
	s.evals = keepEvals

	return counts, nil
}

func (s *MemStore) ExportToJSON(path string, days int) error {
	items, err := s.GetFeedItems("", days, 0)
	if err != nil {
		return err
	}
	statuses, err := s.ListSourceStatus()
	if err != nil {
		return err
	}

	payload := struct {
		ExportedAt   time.Time       `json:"exported_at"`
		FeedItems    []*FeedItem     `json:"feed_items"`
		SourceStatus []*SourceStatus `json:"source_status"`
	}{
		ExportedAt:   time.Now().UTC(),
		FeedItems:    items,
		SourceStatus: statuses,
	}

	data, err := json.MarshalIndent(&payload, "", "  ")
	if err != nil {
		return &errs.StoreError{Op: "export_to_json", Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &errs.StoreError{Op: "export_to_json", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &errs.StoreError{Op: "export_to_json", Err: err}
	}
	return nil
}

func (s *MemStore) Audit(e *AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	e.ID = s.nextAuditID
	cp := *e
	s.audit = append(s.audit, &cp)
	return e.ID, nil
}

func (s *MemStore) QueryAudit(principal, eventType string, since time.Time, limit int) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditEvent
	for _, e := range s.audit {
		if principal != "" && e.PrincipalID != principal {
			continue
		}
		if eventType != "" && e.EventType != eventType {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) EraseAuditPrincipal(principal string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var erased int
	for _, e := range s.audit {
		if e.PrincipalID == principal {
			e.PrincipalID = ""
			e.IP = ""
			erased++
		}
	}
	return erased, nil
}
