// Package memstorage is an in-memory stand-in for the Postgres layer, used by
// tests. Behavior mirrors the SQL repositories, including not-found error
// semantics; WithinTx serializes callers on a single mutex the way row locks
// serialize reconciliations.
package memstorage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/domain/usage"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/service/billing"
)

type Store struct {
	mu sync.Mutex

	accounts      map[int64]*account.Account
	keys          map[int64]*apikey.APIKey
	subscriptions map[int64]*subscription.Subscription
	usageLogs     []*usage.UsageLog

	nextAccountID int64
	nextKeyID     int64
	nextSubID     int64
	nextUsageID   int64
}

func NewStore() *Store {
	return &Store{
		accounts:      make(map[int64]*account.Account),
		keys:          make(map[int64]*apikey.APIKey),
		subscriptions: make(map[int64]*subscription.Subscription),
	}
}

// --- account.Repository ---

var _ account.Repository = (*Store)(nil)

func (s *Store) Create(ctx context.Context, acc *account.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(acc.Email)
	for _, existing := range s.accounts {
		if existing.Email == email {
			return 0, ierr.ErrEmailTaken
		}
	}

	s.nextAccountID++
	stored := *acc
	stored.ID = s.nextAccountID
	stored.Email = email
	stored.CreatedAt = time.Now().UTC()
	s.accounts[stored.ID] = &stored
	return stored.ID, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ierr.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, acc := range s.accounts {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, ierr.ErrAccountNotFound
}

func (s *Store) FindByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.StripeCustomerID != nil && *acc.StripeCustomerID == customerID {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, ierr.ErrAccountNotFound
}

func (s *Store) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ierr.ErrAccountNotFound
	}
	acc.StripeCustomerID = &customerID
	return nil
}

// --- apikey.Repository ---

type KeyRepo struct{ s *Store }

func (s *Store) Keys() *KeyRepo { return &KeyRepo{s: s} }

var _ apikey.Repository = (*KeyRepo)(nil)

func (r *KeyRepo) Create(ctx context.Context, key *apikey.APIKey) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertKeyLocked(key), nil
}

func (s *Store) insertKeyLocked(key *apikey.APIKey) int64 {
	s.nextKeyID++
	stored := *key
	stored.ID = s.nextKeyID
	stored.CreatedAt = time.Now().UTC()
	s.keys[stored.ID] = &stored
	return stored.ID
}

func (r *KeyRepo) FindActiveByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, key := range r.s.keys {
		if key.KeyHash == keyHash && key.Status == apikey.StatusActive {
			cp := *key
			return &cp, nil
		}
	}
	return nil, ierr.ErrAPIKeyNotFound
}

func (r *KeyRepo) FindByID(ctx context.Context, id int64) (*apikey.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key, ok := r.s.keys[id]
	if !ok {
		return nil, ierr.ErrAPIKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *KeyRepo) ListByAccount(ctx context.Context, accountID int64) ([]*apikey.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var keys []*apikey.APIKey
	for _, key := range r.s.keys {
		if key.AccountID == accountID {
			cp := *key
			keys = append(keys, &cp)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID > keys[j].ID })
	return keys, nil
}

func (r *KeyRepo) UpdateStatus(ctx context.Context, id int64, accountID int64, status apikey.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key, ok := r.s.keys[id]
	if !ok || key.AccountID != accountID {
		return ierr.ErrAPIKeyNotFound
	}
	key.Status = status
	return nil
}

func (r *KeyRepo) UpdateLastUsed(ctx context.Context, id int64, lastUsed time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if key, ok := r.s.keys[id]; ok {
		key.LastUsedAt = &lastUsed
	}
	return nil
}

// --- subscription.Repository ---

type SubscriptionRepo struct{ s *Store }

func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }

var _ subscription.Repository = (*SubscriptionRepo)(nil)

func (r *SubscriptionRepo) HasActiveForAccount(ctx context.Context, accountID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sub := range r.s.subscriptions {
		if sub.AccountID == accountID && sub.Status.GrantsAccess() {
			return true, nil
		}
	}
	return false, nil
}

func (r *SubscriptionRepo) FindCurrentForAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub := r.s.latestSubscriptionLocked(accountID)
	if sub == nil {
		return nil, ierr.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) latestSubscriptionLocked(accountID int64) *subscription.Subscription {
	var latest *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.AccountID != accountID {
			continue
		}
		if latest == nil || sub.ID > latest.ID {
			latest = sub
		}
	}
	return latest
}

// --- usage.Repository ---

type UsageRepo struct{ s *Store }

func (s *Store) Usage() *UsageRepo { return &UsageRepo{s: s} }

var _ usage.Repository = (*UsageRepo)(nil)

func (r *UsageRepo) Insert(ctx context.Context, entry *usage.UsageLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextUsageID++
	stored := *entry
	stored.ID = r.s.nextUsageID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.s.usageLogs = append(r.s.usageLogs, &stored)
	return nil
}

func (s *Store) logsForAccountLocked(accountID int64, since time.Time) []*usage.UsageLog {
	accountKeys := make(map[int64]struct{})
	for id, key := range s.keys {
		if key.AccountID == accountID {
			accountKeys[id] = struct{}{}
		}
	}

	var logs []*usage.UsageLog
	for _, entry := range s.usageLogs {
		if _, ok := accountKeys[entry.APIKeyID]; !ok {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs
}

func p95Latency(logs []*usage.UsageLog) int64 {
	if len(logs) == 0 {
		return 0
	}
	latencies := make([]int64, len(logs))
	for i, entry := range logs {
		latencies[i] = entry.ResponseMS
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := (len(latencies)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return latencies[idx]
}

func (r *UsageRepo) SummaryForAccount(ctx context.Context, accountID int64, since time.Time) (*usage.Summary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	logs := r.s.logsForAccountLocked(accountID, since)
	summary := &usage.Summary{Requests: int64(len(logs))}
	if summary.Requests == 0 {
		return summary, nil
	}

	var errCount int64
	for _, entry := range logs {
		if entry.StatusCode >= 400 {
			errCount++
		}
		if entry.StatusCode >= 500 {
			summary.FiveXX++
		}
	}
	summary.ErrorRatePct = float64(errCount) / float64(summary.Requests) * 100
	summary.P95LatencyMS = p95Latency(logs)
	return summary, nil
}

func (r *UsageRepo) TopEndpointsForAccount(ctx context.Context, accountID int64, since time.Time, limit int) ([]usage.EndpointStat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byEndpoint := make(map[string][]*usage.UsageLog)
	for _, entry := range r.s.logsForAccountLocked(accountID, since) {
		byEndpoint[entry.Endpoint] = append(byEndpoint[entry.Endpoint], entry)
	}

	stats := make([]usage.EndpointStat, 0, len(byEndpoint))
	for endpoint, logs := range byEndpoint {
		var errCount int64
		for _, entry := range logs {
			if entry.StatusCode >= 400 {
				errCount++
			}
		}
		stats = append(stats, usage.EndpointStat{
			Endpoint: endpoint,
			Requests: int64(len(logs)),
			ErrorPct: float64(errCount) / float64(len(logs)) * 100,
			P95MS:    p95Latency(logs),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Requests > stats[j].Requests })
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (r *UsageRepo) StatusBreakdownForAccount(ctx context.Context, accountID int64, since time.Time) ([]usage.StatusBucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	logs := r.s.logsForAccountLocked(accountID, since)
	counts := make(map[string]int64)
	for _, entry := range logs {
		class := fmt.Sprintf("%dxx", entry.StatusCode/100)
		counts[class]++
	}

	buckets := make([]usage.StatusBucket, 0, len(counts))
	for class, n := range counts {
		buckets = append(buckets, usage.StatusBucket{
			Class:    class,
			Requests: n,
			Pct:      float64(n) / float64(len(logs)) * 100,
		})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Class < buckets[j].Class })
	return buckets, nil
}

func truncBucket(t time.Time, bucket usage.TrendBucket) time.Time {
	t = t.UTC()
	switch bucket {
	case usage.BucketHour:
		return t.Truncate(time.Hour)
	case usage.BucketWeek:
		day := t.Truncate(24 * time.Hour)
		// date_trunc('week', ...) snaps to the ISO Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return t.Truncate(24 * time.Hour)
	}
}

func (r *UsageRepo) TrendForAccount(ctx context.Context, accountID int64, since time.Time, bucket usage.TrendBucket) ([]usage.TrendPoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	counts := make(map[time.Time]int64)
	for _, entry := range r.s.logsForAccountLocked(accountID, since) {
		counts[truncBucket(entry.CreatedAt, bucket)]++
	}

	points := make([]usage.TrendPoint, 0, len(counts))
	for ts, n := range counts {
		points = append(points, usage.TrendPoint{Bucket: ts, Requests: n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket.Before(points[j].Bucket) })
	return points, nil
}

func (r *UsageRepo) LatencyBucketsForAccount(ctx context.Context, accountID int64, since time.Time) ([]usage.LatencyBucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	logs := r.s.logsForAccountLocked(accountID, since)
	counts := make(map[string]int64)
	minLatency := make(map[string]int64)
	for _, entry := range logs {
		band := usage.LatencyBand(entry.ResponseMS)
		counts[band]++
		if cur, ok := minLatency[band]; !ok || entry.ResponseMS < cur {
			minLatency[band] = entry.ResponseMS
		}
	}

	buckets := make([]usage.LatencyBucket, 0, len(counts))
	for band, n := range counts {
		buckets = append(buckets, usage.LatencyBucket{
			Band:     band,
			Requests: n,
			Pct:      float64(n) / float64(len(logs)) * 100,
		})
	}
	sort.Slice(buckets, func(i, j int) bool { return minLatency[buckets[i].Band] < minLatency[buckets[j].Band] })
	return buckets, nil
}

func (r *UsageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept []*usage.UsageLog
	var deleted int64
	for _, entry := range r.s.usageLogs {
		if entry.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	r.s.usageLogs = kept
	return deleted, nil
}

func (r *UsageRepo) Entries() []*usage.UsageLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := make([]*usage.UsageLog, len(r.s.usageLogs))
	copy(entries, r.s.usageLogs)
	return entries
}

// --- billing.Store ---

var _ billing.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

type memTx struct{ s *Store }

var _ billing.Tx = (*memTx)(nil)

func (t *memTx) FindAccountByID(ctx context.Context, id int64) (*account.Account, error) {
	if acc, ok := t.s.accounts[id]; ok {
		cp := *acc
		return &cp, nil
	}
	return nil, nil
}

func (t *memTx) FindAccountByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	for _, acc := range t.s.accounts {
		if acc.StripeCustomerID != nil && *acc.StripeCustomerID == customerID {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) FindAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	email = strings.ToLower(email)
	for _, acc := range t.s.accounts {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error {
	if acc, ok := t.s.accounts[accountID]; ok {
		acc.StripeCustomerID = &customerID
	}
	return nil
}

func (t *memTx) LockAccount(ctx context.Context, accountID int64) error {
	// The store mutex held by WithinTx already serializes transactions.
	return nil
}

func (t *memTx) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscription.Subscription, error) {
	for _, sub := range t.s.subscriptions {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) LatestSubscriptionForAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	sub := t.s.latestSubscriptionLocked(accountID)
	if sub == nil {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (t *memTx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) (int64, error) {
	t.s.nextSubID++
	stored := *sub
	stored.ID = t.s.nextSubID
	t.s.subscriptions[stored.ID] = &stored
	return stored.ID, nil
}

func (t *memTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, ok := t.s.subscriptions[sub.ID]; !ok {
		return ierr.ErrNotFound
	}
	cp := *sub
	t.s.subscriptions[sub.ID] = &cp
	return nil
}

func (t *memTx) AccountHasActiveKey(ctx context.Context, accountID int64) (bool, error) {
	for _, key := range t.s.keys {
		if key.AccountID == accountID && key.Status == apikey.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertAPIKey(ctx context.Context, key *apikey.APIKey) (int64, error) {
	return t.s.insertKeyLocked(key), nil
}

// --- test seeding helpers ---

func (s *Store) SeedAccount(email string, stripeCustomerID *string) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	acc := &account.Account{
		ID:               s.nextAccountID,
		Email:            strings.ToLower(email),
		PasswordHash:     "!",
		StripeCustomerID: stripeCustomerID,
		CreatedAt:        time.Now().UTC(),
	}
	s.accounts[acc.ID] = acc
	cp := *acc
	return &cp
}

func (s *Store) SeedSubscription(accountID int64, stripeSubID *string, status subscription.Status) *subscription.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	sub := &subscription.Subscription{
		ID:                   s.nextSubID,
		AccountID:            accountID,
		StripeSubscriptionID: stripeSubID,
		Status:               status,
		Plan:                 "starter-monthly",
	}
	s.subscriptions[sub.ID] = sub
	cp := *sub
	return &cp
}

func (s *Store) SeedKey(accountID int64, keyHash, label string, status apikey.Status) *apikey.APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.insertKeyLocked(&apikey.APIKey{
		KeyHash:   keyHash,
		AccountID: accountID,
		Label:     label,
		Status:    status,
	})
	cp := *s.keys[id]
	return &cp
}

func (s *Store) CountActiveKeys(accountID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, key := range s.keys {
		if key.AccountID == accountID && key.Status == apikey.StatusActive {
			n++
		}
	}
	return n
}

func (s *Store) CountSubscriptions(accountID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sub := range s.subscriptions {
		if sub.AccountID == accountID {
			n++
		}
	}
	return n
}
