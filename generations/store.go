package generations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

var ErrUnknownType = errors.New("generations: unknown record type")

// Store persists generation records and exposes a live snapshot feed over
// the change feed. Writes are append-only; there is no update path.
type Store struct {
	db   *gorm.DB
	feed *ChangeFeed
}

// NewStore wires the store to an open database handle and a change feed.
func NewStore(db *gorm.DB, feed *ChangeFeed) (*Store, error) {
	if db == nil {
		return nil, errors.New("generations: database handle is required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("generations: migrate records: %w", err)
	}
	if feed == nil {
		feed = NewChangeFeed(nil)
	}
	return &Store{db: db, feed: feed}, nil
}

// Insert appends a record, assigns its creation timestamp and notifies
// subscribers. The record's DocID is populated on return.
func (s *Store) Insert(ctx context.Context, record *Record) error {
	if s == nil || s.db == nil {
		return errors.New("generations: store not initialized")
	}
	if record == nil {
		return errors.New("generations: record cannot be nil")
	}
	if !KnownType(record.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, record.Type)
	}

	record.CreatedAt = time.Now().UTC()
	if len(record.Keywords) == 0 && record.Type == TypeBroll {
		record.SetKeywords(nil)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("generations: insert record: %w", err)
	}

	s.feed.Notify(ctx)
	return nil
}

// GetByID loads one record by its document id.
func (s *Store) GetByID(ctx context.Context, docID uint) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("generations: store not initialized")
	}
	var record Record
	if err := s.db.WithContext(ctx).First(&record, docID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Snapshot returns every record of the given type, newest first. An empty
// recordType returns all types.
func (s *Store) Snapshot(ctx context.Context, recordType string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("generations: store not initialized")
	}

	query := s.db.WithContext(ctx).Model(&Record{}).Order("created_at DESC, doc_id DESC")
	if trimmed := strings.TrimSpace(recordType); trimmed != "" {
		if !KnownType(trimmed) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, trimmed)
		}
		query = query.Where("type = ?", trimmed)
	}

	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("generations: load snapshot: %w", err)
	}
	return records, nil
}

// Subscription is a cancellable live query. C delivers the full authoritative
// snapshot on subscribe and again after every remote change; each delivery
// replaces the previous one entirely. Cancel must be called on consumer
// teardown, after which no further snapshots are delivered and C is closed.
type Subscription struct {
	C <-chan []Record

	cancelOnce sync.Once
	done       chan struct{}
}

// Cancel tears the subscription down. Safe to call more than once.
func (sub *Subscription) Cancel() {
	if sub == nil {
		return
	}
	sub.cancelOnce.Do(func() { close(sub.done) })
}

// Subscribe opens a live snapshot feed for one record type. The feed ends
// when ctx is cancelled or Cancel is called.
func (s *Store) Subscribe(ctx context.Context, recordType string) (*Subscription, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("generations: store not initialized")
	}
	if trimmed := strings.TrimSpace(recordType); trimmed != "" && !KnownType(trimmed) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, trimmed)
	}

	ch := make(chan []Record, 1)
	sub := &Subscription{C: ch, done: make(chan struct{})}
	id, signal := s.feed.register()

	go func() {
		defer func() {
			s.feed.unregister(id)
			close(ch)
		}()

		if !s.push(ctx, recordType, ch, sub.done) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case <-signal:
				if !s.push(ctx, recordType, ch, sub.done) {
					return
				}
			}
		}
	}()

	return sub, nil
}

// push loads and delivers a snapshot, dropping any stale undelivered one so a
// slow consumer always observes the latest state. Returns false when the
// subscription is finished.
func (s *Store) push(ctx context.Context, recordType string, ch chan []Record, done chan struct{}) bool {
	snapshot, err := s.Snapshot(ctx, recordType)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Printf("generations: refresh snapshot failed: %v", err)
		return true
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- snapshot:
		return true
	case <-done:
		return false
	case <-ctx.Done():
		return false
	}
}
