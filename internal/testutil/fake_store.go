// Package testutil provides in-memory fakes for exercising the server and
// proxy packages without a real SQLite-backed store.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu sync.RWMutex

	channels map[string]*routex.Channel // keyed by ID
	rules    map[string]*routex.RoutingRule
	tees     map[string]*routex.TeeDestination
	oauth    map[string]*routex.OAuthSession // keyed by channel ID
	prices   map[string]*routex.ModelPrice
	keys     map[string]*routex.APIKey
	logs     []routex.RequestLog
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		channels: make(map[string]*routex.Channel),
		rules:    make(map[string]*routex.RoutingRule),
		tees:     make(map[string]*routex.TeeDestination),
		oauth:    make(map[string]*routex.OAuthSession),
		prices:   make(map[string]*routex.ModelPrice),
		keys:     make(map[string]*routex.APIKey),
	}
}

var _ storage.Store = (*FakeStore)(nil)

// AddChannel inserts a channel directly, bypassing CreateChannel, for test setup.
func (s *FakeStore) AddChannel(c *routex.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = c
}

// --- ChannelStore ---

func (s *FakeStore) CreateChannel(_ context.Context, c *routex.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.channels {
		if existing.Name == c.Name {
			return routex.ErrConflict
		}
	}
	s.channels[c.ID] = c
	return nil
}

func (s *FakeStore) GetChannel(_ context.Context, id string) (*routex.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return c, nil
}

func (s *FakeStore) GetChannelByName(_ context.Context, name string) (*routex.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.channels {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, routex.ErrNotFound
}

func (s *FakeStore) ListChannels(_ context.Context) ([]*routex.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FakeStore) ListEnabledChannels(ctx context.Context) ([]*routex.Channel, error) {
	all, _ := s.ListChannels(ctx)
	out := make([]*routex.Channel, 0, len(all))
	for _, c := range all {
		if c.Status == routex.ChannelEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateChannel(_ context.Context, c *routex.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ID]; !ok {
		return routex.ErrNotFound
	}
	s.channels[c.ID] = c
	return nil
}

func (s *FakeStore) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return routex.ErrNotFound
	}
	delete(s.channels, id)
	return nil
}

func (s *FakeStore) RecordAttempt(_ context.Context, id string, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return routex.ErrNotFound
	}
	c.RequestCount++
	c.LastUsedAt = &at
	if success {
		c.SuccessCount++
		c.ConsecutiveFailures = 0
	} else {
		c.FailureCount++
		c.ConsecutiveFailures++
		c.LastFailureTime = &at
	}
	return nil
}

// --- RuleStore ---

func (s *FakeStore) CreateRule(_ context.Context, r *routex.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *FakeStore) GetRule(_ context.Context, id string) (*routex.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return r, nil
}

func (s *FakeStore) ListRules(_ context.Context) ([]*routex.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.RoutingRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *FakeStore) ListEnabledRules(ctx context.Context) ([]*routex.RoutingRule, error) {
	all, _ := s.ListRules(ctx)
	out := make([]*routex.RoutingRule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateRule(_ context.Context, r *routex.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return routex.ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func (s *FakeStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return routex.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// --- TeeStore ---

func (s *FakeStore) CreateTee(_ context.Context, t *routex.TeeDestination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tees[t.ID] = t
	return nil
}

func (s *FakeStore) GetTee(_ context.Context, id string) (*routex.TeeDestination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tees[id]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return t, nil
}

func (s *FakeStore) ListTees(_ context.Context) ([]*routex.TeeDestination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.TeeDestination, 0, len(s.tees))
	for _, t := range s.tees {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FakeStore) ListEnabledTees(ctx context.Context) ([]*routex.TeeDestination, error) {
	all, _ := s.ListTees(ctx)
	out := make([]*routex.TeeDestination, 0, len(all))
	for _, t := range all {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateTee(_ context.Context, t *routex.TeeDestination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tees[t.ID]; !ok {
		return routex.ErrNotFound
	}
	s.tees[t.ID] = t
	return nil
}

func (s *FakeStore) DeleteTee(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tees[id]; !ok {
		return routex.ErrNotFound
	}
	delete(s.tees, id)
	return nil
}

// --- OAuthSessionStore ---

func (s *FakeStore) UpsertOAuthSession(_ context.Context, sess *routex.OAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth[sess.ChannelID] = sess
	return nil
}

func (s *FakeStore) GetOAuthSession(_ context.Context, channelID string) (*routex.OAuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.oauth[channelID]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return sess, nil
}

func (s *FakeStore) ListOAuthSessions(_ context.Context) ([]*routex.OAuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.OAuthSession, 0, len(s.oauth))
	for _, sess := range s.oauth {
		out = append(out, sess)
	}
	return out, nil
}

func (s *FakeStore) DeleteOAuthSession(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oauth[channelID]; !ok {
		return routex.ErrNotFound
	}
	delete(s.oauth, channelID)
	return nil
}

// --- RequestLogStore ---

func (s *FakeStore) InsertRequestLogs(_ context.Context, logs []routex.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

func (s *FakeStore) QueryRequestLogs(_ context.Context, f storage.RequestLogFilter) ([]routex.RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := filterLogs(s.logs, f)
	offset := f.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && offset+f.Limit < end {
		end = offset + f.Limit
	}
	return matched[offset:end], nil
}

func (s *FakeStore) CountRequestLogs(_ context.Context, f storage.RequestLogFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(filterLogs(s.logs, f)), nil
}

func filterLogs(logs []routex.RequestLog, f storage.RequestLogFilter) []routex.RequestLog {
	out := make([]routex.RequestLog, 0, len(logs))
	for _, l := range logs {
		if f.ChannelID != "" && l.ChannelID != f.ChannelID {
			continue
		}
		if f.Model != "" && l.Model != f.Model {
			continue
		}
		if !f.Since.IsZero() && l.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && l.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (s *FakeStore) QueryAnalytics(_ context.Context, since, until time.Time) (storage.Analytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var a storage.Analytics
	for _, l := range s.logs {
		if l.Timestamp.Before(since) || l.Timestamp.After(until) {
			continue
		}
		a.TotalRequests++
		if l.Success {
			a.SuccessCount++
		} else {
			a.FailureCount++
		}
		a.TotalCostUSD += l.CostUSD
		a.TotalInTokens += l.InputTokens
		a.TotalOutTokens += l.OutputTokens
	}
	return a, nil
}

func (s *FakeStore) SumCostSince(_ context.Context, channelID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, l := range s.logs {
		if l.ChannelID == channelID && l.Timestamp.After(since) {
			sum += l.CostUSD
		}
	}
	return sum, nil
}

// --- ModelPriceStore ---

func (s *FakeStore) UpsertModelPrice(_ context.Context, p *routex.ModelPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[p.Model] = p
	return nil
}

func (s *FakeStore) GetModelPrice(_ context.Context, model string) (*routex.ModelPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[model]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return p, nil
}

func (s *FakeStore) ListModelPrices(_ context.Context) ([]*routex.ModelPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.ModelPrice, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, p)
	}
	return out, nil
}

func (s *FakeStore) DeleteModelPrice(_ context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[model]; !ok {
		return routex.ErrNotFound
	}
	delete(s.prices, model)
	return nil
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, k *routex.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*routex.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, routex.ErrNotFound
	}
	return k, nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*routex.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, routex.ErrNotFound
}

func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*routex.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*routex.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

func (s *FakeStore) CountKeys(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}

func (s *FakeStore) UpdateKey(_ context.Context, k *routex.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k.ID]; !ok {
		return routex.ErrNotFound
	}
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return routex.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return routex.ErrNotFound
	}
	now := time.Now()
	k.LastUsedAt = &now
	return nil
}

// --- misc Store ---

func (s *FakeStore) Ping(context.Context) error { return nil }
func (s *FakeStore) Close() error               { return nil }
