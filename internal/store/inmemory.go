package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/models"
	"github.com/BTreeMap/ReplyDesk/internal/util"
)

// InMemoryStore implements Store, DedupRepo, and AlertOutboxRepo with
// in-process maps. It backs unit tests and throwaway runs; nothing
// survives a restart.
type InMemoryStore struct {
	mu        sync.Mutex
	exchanges []models.Exchange
	dedup     map[string]struct{}
	alerts    map[string]*AlertMessage
	alertSeq  []string
}

var _ Store = (*InMemoryStore)(nil)
var _ DedupRepo = (*InMemoryStore)(nil)
var _ AlertOutboxRepo = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		dedup:  make(map[string]struct{}),
		alerts: make(map[string]*AlertMessage),
	}
}

// AddExchange appends one exchange to the log.
func (s *InMemoryStore) AddExchange(ex models.Exchange) error {
	if err := ex.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, ex)
	return nil
}

// MostRecentBySender returns the latest exchange recorded for sender,
// or nil if the sender has no history.
func (s *InMemoryStore) MostRecentBySender(sender string) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.exchanges) - 1; i >= 0; i-- {
		if s.exchanges[i].Sender == sender {
			ex := s.exchanges[i]
			return &ex, nil
		}
	}
	return nil, nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *InMemoryStore) RecentExchanges(limit int) ([]models.Exchange, error) {
	if limit <= 0 || limit > models.MaxRecentExchangesLimit {
		limit = models.MaxRecentExchangesLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.exchanges)
	if limit > n {
		limit = n
	}
	result := make([]models.Exchange, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, s.exchanges[i])
	}
	return result, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// RecordInbound inserts a dedup record for a provider message ID.
// Returns false when the ID was already recorded.
func (s *InMemoryStore) RecordInbound(providerID, sender string) (bool, error) {
	if providerID == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dedup[providerID]; exists {
		return false, nil
	}
	s.dedup[providerID] = struct{}{}
	return true, nil
}

// EnqueueAlert inserts a new owner alert into the outbox with optional
// dedupe by key against non-terminal alerts.
func (s *InMemoryStore) EnqueueAlert(subject, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, id := range s.alertSeq {
			m := s.alerts[id]
			if m.DedupeKey == dedupeKey && m.Status != AlertStatusSent {
				return m.ID, nil
			}
		}
	}
	now := time.Now().UTC()
	m := &AlertMessage{
		ID:        util.GenerateAlertID(),
		Subject:   subject,
		Body:      body,
		Status:    AlertStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.alerts[m.ID] = m
	s.alertSeq = append(s.alertSeq, m.ID)
	return m.ID, nil
}

// ClaimDueAlerts marks up to limit due alerts as sending and returns them.
func (s *InMemoryStore) ClaimDueAlerts(now time.Time, limit int) ([]AlertMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.alertSeq))
	copy(ids, s.alertSeq)
	sort.SliceStable(ids, func(i, j int) bool {
		return s.alerts[ids[i]].CreatedAt.Before(s.alerts[ids[j]].CreatedAt)
	})
	lockTime := now.UTC()
	var claimed []AlertMessage
	for _, id := range ids {
		if len(claimed) >= limit {
			break
		}
		m := s.alerts[id]
		if m.Status != AlertStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		m.Status = AlertStatusSending
		t := lockTime
		m.LockedAt = &t
		m.UpdatedAt = lockTime
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

// MarkAlertSent records successful delivery of an alert.
func (s *InMemoryStore) MarkAlertSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.alerts[id]; ok {
		m.Status = AlertStatusSent
		m.LockedAt = nil
		m.LastError = ""
		m.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// FailAlert records a delivery failure and requeues the alert.
func (s *InMemoryStore) FailAlert(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.alerts[id]; ok {
		m.Status = AlertStatusQueued
		m.Attempts++
		t := nextAttemptAt.UTC()
		m.NextAttemptAt = &t
		m.LockedAt = nil
		m.LastError = errMsg
		m.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// RequeueStaleSendingAlerts returns stuck sending alerts to the queue.
func (s *InMemoryStore) RequeueStaleSendingAlerts(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.alerts {
		if m.Status == AlertStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = AlertStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}
