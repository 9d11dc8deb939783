package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/worldpam/internal/errs"
	bolt "go.etcd.io/bbolt"
)

// Bucket names: one bucket per entity plus secondary-index buckets so
// range scans stay ordered without a table scan.
var (
	bucketFeedItems         = []byte("feed_items")
	bucketFeedItemsBySource = []byte("feed_items_by_source")
	bucketFeedItemsByTime   = []byte("feed_items_by_fetched_at")
	bucketFeedItemsByHash   = []byte("feed_items_by_hash")

	bucketSignalValues       = []byte("signal_values")
	bucketSignalValuesByName = []byte("signal_values_by_name")

	bucketEvaluations       = []byte("hypothesis_evaluations")
	bucketEvaluationsByName = []byte("evaluations_by_name")

	bucketSourceStatus = []byte("source_status")

	bucketAuditLog         = []byte("audit_log")
	bucketAuditByPrincipal = []byte("audit_by_principal")
)

// BoltStore implements Store on top of an embedded bbolt file, using the
// db.View/db.Update transaction split with buckets created lazily on open.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path, ensuring every
// bucket this package needs exists.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errs.StoreError{Op: "open", Err: err}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &errs.StoreError{Op: "open", Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketFeedItems, bucketFeedItemsBySource, bucketFeedItemsByTime, bucketFeedItemsByHash,
			bucketSignalValues, bucketSignalValuesByName,
			bucketEvaluations, bucketEvaluationsByName,
			bucketSourceStatus,
			bucketAuditLog, bucketAuditByPrincipal,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &errs.StoreError{Op: "open", Err: err}
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func timeKey(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

func compositeKey(parts ...[]byte) []byte {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, p...)
	}
	return out
}

// StoreFeedItem is idempotent on (SourceName, ContentHash).
func (s *BoltStore) StoreFeedItem(item *FeedItem) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		hashBucket := tx.Bucket(bucketFeedItemsByHash)
		hashKey := compositeKey([]byte(item.SourceName), []byte(item.ContentHash))
		if existing := hashBucket.Get(hashKey); existing != nil {
			id = int64(binary.BigEndian.Uint64(existing))
			return nil
		}

		items := tx.Bucket(bucketFeedItems)
		seq, err := items.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		item.ID = id

		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := items.Put(idKey(id), data); err != nil {
			return err
		}
		if err := hashBucket.Put(hashKey, idKey(id)); err != nil {
			return err
		}

		bySource := tx.Bucket(bucketFeedItemsBySource)
		if err := bySource.Put(compositeKey([]byte(item.SourceName), idKey(id)), idKey(id)); err != nil {
			return err
		}

		byTime := tx.Bucket(bucketFeedItemsByTime)
		return byTime.Put(compositeKey(timeKey(item.FetchedAt), idKey(id)), idKey(id))
	})
	if err != nil {
		return 0, &errs.StoreError{Op: "store_feed_item", Err: err}
	}
	return id, nil
}

func (s *BoltStore) StoreSignalValue(v *SignalValue) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSignalValues)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		v.ID = id

		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := b.Put(idKey(id), data); err != nil {
			return err
		}

		idx := tx.Bucket(bucketSignalValuesByName)
		return idx.Put(compositeKey([]byte(v.SignalName), timeKey(v.ComputedAt), idKey(id)), idKey(id))
	})
	if err != nil {
		return 0, &errs.StoreError{Op: "store_signal_value", Err: err}
	}
	return id, nil
}

func (s *BoltStore) StoreHypothesisEvaluation(e *HypothesisEval) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvaluations)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		e.ID = id

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(idKey(id), data); err != nil {
			return err
		}

		idx := tx.Bucket(bucketEvaluationsByName)
		return idx.Put(compositeKey([]byte(e.HypothesisName), timeKey(e.EvaluatedAt), idKey(id)), idKey(id))
	})
	if err != nil {
		return 0, &errs.StoreError{Op: "store_hypothesis_evaluation", Err: err}
	}
	return id, nil
}

func (s *BoltStore) UpdateSourceStatus(source string, success bool, errMsg string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceStatus)
		var status SourceStatus
		if data := b.Get([]byte(source)); data != nil {
			if err := json.Unmarshal(data, &status); err != nil {
				return err
			}
		} else {
			status = SourceStatus{SourceName: source}
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

		data, err := json.Marshal(&status)
		if err != nil {
			return err
		}
		return b.Put([]byte(source), data)
	})
	if err != nil {
		return &errs.StoreError{Op: "update_source_status", Err: err}
	}
	return nil
}

// GetFeedItems returns items for source (or every source when empty)
// fetched within the trailing `days` window, newest-first, capped at
// limit (0 = unbounded).
func (s *BoltStore) GetFeedItems(source string, days int, limit int) ([]*FeedItem, error) {
	var out []*FeedItem
	cutoff := cutoffFor(days)

	err := s.db.View(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketFeedItems)

		collect := func(id []byte) error {
			data := items.Get(id)
			if data == nil {
				return nil
			}
			var item FeedItem
			if err := json.Unmarshal(data, &item); err != nil {
				return err
			}
			if !cutoff.IsZero() && item.FetchedAt.Before(cutoff) {
				return nil
			}
			out = append(out, &item)
			return nil
		}

		if source != "" {
			idx := tx.Bucket(bucketFeedItemsBySource)
			prefix := append([]byte(source), 0)
			c := idx.Cursor()
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				if err := collect(v); err != nil {
					return err
				}
			}
			return nil
		}

		idx := tx.Bucket(bucketFeedItemsByTime)
		c := idx.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := collect(v); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit*4 {
				// Bound the scan; final sort+truncate below enforces limit exactly.
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, &errs.StoreError{Op: "get_feed_items", Err: err}
	}

	sortFeedItemsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func sortFeedItemsDesc(items []*FeedItem) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && items[j-1].FetchedAt.Before(items[j].FetchedAt) {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

func cutoffFor(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}

func (s *BoltStore) GetSignalHistory(signal string, days int, country string) ([]*SignalValue, error) {
	var out []*SignalValue
	cutoff := cutoffFor(days)

	err := s.db.View(func(tx *bolt.Tx) error {
		values := tx.Bucket(bucketSignalValues)
		idx := tx.Bucket(bucketSignalValuesByName)
		prefix := append([]byte(signal), 0)
		c := idx.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := values.Get(v)
			if data == nil {
				continue
			}
			var sv SignalValue
			if err := json.Unmarshal(data, &sv); err != nil {
				return err
			}
			if !cutoff.IsZero() && sv.ComputedAt.Before(cutoff) {
				continue
			}
			if country != "" && sv.Country != country {
				continue
			}
			out = append(out, &sv)
		}
		return nil
	})
	if err != nil {
		return nil, &errs.StoreError{Op: "get_signal_history", Err: err}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *BoltStore) GetHypothesisHistory(hyp string, days int, country string) ([]*HypothesisEval, error) {
	var out []*HypothesisEval
	cutoff := cutoffFor(days)

	err := s.db.View(func(tx *bolt.Tx) error {
		evals := tx.Bucket(bucketEvaluations)
		idx := tx.Bucket(bucketEvaluationsByName)
		prefix := append([]byte(hyp), 0)
		c := idx.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := evals.Get(v)
			if data == nil {
				continue
			}
			var e HypothesisEval
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if !cutoff.IsZero() && e.EvaluatedAt.Before(cutoff) {
				continue
			}
			if country != "" && e.Country != country {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, &errs.StoreError{Op: "get_hypothesis_history", Err: err}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *BoltStore) GetSourceStatus(source string) (*SourceStatus, error) {
	var status *SourceStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceStatus)
		data := b.Get([]byte(source))
		if data == nil {
			return &errs.NotFoundError{Kind: "source_status", Name: source}
		}
		status = &SourceStatus{}
		return json.Unmarshal(data, status)
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (s *BoltStore) ListSourceStatus() ([]*SourceStatus, error) {
	var out []*SourceStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceStatus)
		return b.ForEach(func(k, v []byte) error {
			var status SourceStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			out = append(out, &status)
			return nil
		})
	})
	if err != nil {
		return nil, &errs.StoreError{Op: "list_source_status", Err: err}
	}
	return out, nil
}

// CleanupOldData deletes feed items, signal values, and evaluations whose
// relevant timestamp precedes now-days, returning counts removed.
func (s *BoltStore) CleanupOldData(days int) (CleanupCounts, error) {
	var counts CleanupCounts
	// Unlike the read paths, days=0 here means "older than now", not
	// "unbounded": cleanup_old_data(0) removes every historical row.
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	err := s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketFeedItems)
		var staleItems []FeedItem
		var staleItemKeys [][]byte
		if err := items.ForEach(func(k, v []byte) error {
			var item FeedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.FetchedAt.Before(cutoff) {
				staleItems = append(staleItems, item)
				staleItemKeys = append(staleItemKeys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for i, item := range staleItems {
			k := staleItemKeys[i]
			counts.FeedItems++
			if err := items.Delete(k); err != nil {
				return err
			}
			tx.Bucket(bucketFeedItemsByHash).Delete(compositeKey([]byte(item.SourceName), []byte(item.ContentHash)))
			tx.Bucket(bucketFeedItemsBySource).Delete(compositeKey([]byte(item.SourceName), k))
			tx.Bucket(bucketFeedItemsByTime).Delete(compositeKey(timeKey(item.FetchedAt), k))
		}

		values := tx.Bucket(bucketSignalValues)
		var staleSignals []SignalValue
		var staleSignalKeys [][]byte
		if err := values.ForEach(func(k, v []byte) error {
			var sv SignalValue
			if err := json.Unmarshal(v, &sv); err != nil {
				return err
			}
			if sv.ComputedAt.Before(cutoff) {
				staleSignals = append(staleSignals, sv)
				staleSignalKeys = append(staleSignalKeys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for i, sv := range staleSignals {
			k := staleSignalKeys[i]
			counts.Signals++
			if err := values.Delete(k); err != nil {
				return err
			}
			tx.Bucket(bucketSignalValuesByName).Delete(compositeKey([]byte(sv.SignalName), timeKey(sv.ComputedAt), k))
		}

		evals := tx.Bucket(bucketEvaluations)
		var staleEvals []HypothesisEval
		var staleEvalKeys [][]byte
		if err := evals.ForEach(func(k, v []byte) error {
			var e HypothesisEval
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.EvaluatedAt.Before(cutoff) {
				staleEvals = append(staleEvals, e)
				staleEvalKeys = append(staleEvalKeys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for i, e := range staleEvals {
			k := staleEvalKeys[i]
			counts.Evaluations++
			if err := evals.Delete(k); err != nil {
				return err
			}
			tx.Bucket(bucketEvaluationsByName).Delete(compositeKey([]byte(e.HypothesisName), timeKey(e.EvaluatedAt), k))
		}
		return nil
	})
	if err != nil {
		return counts, &errs.StoreError{Op: "cleanup_old_data", Err: err}
	}
	return counts, nil
}

// ExportToJSON serializes feed items and source status from the trailing
// `days` window into path, writing to a tempfile and renaming into place so
// a reader never observes a partial file.
func (s *BoltStore) ExportToJSON(path string, days int) error {
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

func (s *BoltStore) Audit(e *AuditEvent) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		e.ID = id

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(idKey(id), data); err != nil {
			return err
		}

		if e.PrincipalID != "" {
			idx := tx.Bucket(bucketAuditByPrincipal)
			if err := idx.Put(compositeKey([]byte(e.PrincipalID), idKey(id)), idKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &errs.StoreError{Op: "audit", Err: err}
	}
	return id, nil
}

func (s *BoltStore) QueryAudit(principal, eventType string, since time.Time, limit int) ([]*AuditEvent, error) {
	var out []*AuditEvent

	err := s.db.View(func(tx *bolt.Tx) error {
		log := tx.Bucket(bucketAuditLog)

		collect := func(data []byte) error {
			var e AuditEvent
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if !since.IsZero() && e.Timestamp.Before(since) {
				return nil
			}
			if eventType != "" && e.EventType != eventType {
				return nil
			}
			out = append(out, &e)
			return nil
		}

		if principal != "" {
			idx := tx.Bucket(bucketAuditByPrincipal)
			prefix := append([]byte(principal), 0)
			c := idx.Cursor()
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				data := log.Get(v)
				if data == nil {
					continue
				}
				if err := collect(data); err != nil {
					return err
				}
			}
			return nil
		}

		return log.ForEach(func(k, v []byte) error {
			return collect(v)
		})
	})
	if err != nil {
		return nil, &errs.StoreError{Op: "query_audit", Err: err}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EraseAuditPrincipal nulls PrincipalID and IP on every matching record
// without deleting the records, satisfying a right-to-erasure request
// while preserving the audit trail's shape.
func (s *BoltStore) EraseAuditPrincipal(principal string) (int, error) {
	var erased int
	err := s.db.Update(func(tx *bolt.Tx) error {
		log := tx.Bucket(bucketAuditLog)
		idx := tx.Bucket(bucketAuditByPrincipal)
		prefix := append([]byte(principal), 0)

		var ids [][]byte
		var idxKeys [][]byte
		c := idx.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, append([]byte(nil), v...))
			idxKeys = append(idxKeys, append([]byte(nil), k...))
		}
		for _, k := range idxKeys {
			if err := idx.Delete(k); err != nil {
				return err
			}
		}

		for _, id := range ids {
			data := log.Get(id)
			if data == nil {
				continue
			}
			var e AuditEvent
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			e.PrincipalID = ""
			e.IP = ""
			updated, err := json.Marshal(&e)
			if err != nil {
				return err
			}
			if err := log.Put(id, updated); err != nil {
				return err
			}
			erased++
		}
		return nil
	})
	if err != nil {
		return erased, &errs.StoreError{Op: "erase_audit_principal", Err: err}
	}
	return erased, nil
}
