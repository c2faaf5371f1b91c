// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	routex "github.com/dctx/routex/internal"
)

// ChannelStore manages channel (upstream credential + endpoint) persistence.
type ChannelStore interface {
	CreateChannel(ctx context.Context, c *routex.Channel) error
	GetChannel(ctx context.Context, id string) (*routex.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*routex.Channel, error)
	ListChannels(ctx context.Context) ([]*routex.Channel, error)
	ListEnabledChannels(ctx context.Context) ([]*routex.Channel, error)
	UpdateChannel(ctx context.Context, c *routex.Channel) error
	DeleteChannel(ctx context.Context, id string) error
	// RecordAttempt updates a channel's counters after a proxied attempt.
	RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error
}

// RuleStore manages routing-rule persistence.
type RuleStore interface {
	CreateRule(ctx context.Context, r *routex.RoutingRule) error
	GetRule(ctx context.Context, id string) (*routex.RoutingRule, error)
	ListRules(ctx context.Context) ([]*routex.RoutingRule, error)
	ListEnabledRules(ctx context.Context) ([]*routex.RoutingRule, error)
	UpdateRule(ctx context.Context, r *routex.RoutingRule) error
	DeleteRule(ctx context.Context, id string) error
}

// TeeStore manages tee-destination persistence.
type TeeStore interface {
	CreateTee(ctx context.Context, t *routex.TeeDestination) error
	GetTee(ctx context.Context, id string) (*routex.TeeDestination, error)
	ListTees(ctx context.Context) ([]*routex.TeeDestination, error)
	ListEnabledTees(ctx context.Context) ([]*routex.TeeDestination, error)
	UpdateTee(ctx context.Context, t *routex.TeeDestination) error
	DeleteTee(ctx context.Context, id string) error
}

// OAuthSessionStore manages OAuth session persistence (admin-side refresh
// only; never read from the hot path).
type OAuthSessionStore interface {
	UpsertOAuthSession(ctx context.Context, s *routex.OAuthSession) error
	GetOAuthSession(ctx context.Context, channelID string) (*routex.OAuthSession, error)
	ListOAuthSessions(ctx context.Context) ([]*routex.OAuthSession, error)
	DeleteOAuthSession(ctx context.Context, channelID string) error
}

// RequestLogFilter narrows a request-log query.
type RequestLogFilter struct {
	ChannelID string
	Model     string
	Since     time.Time
	Until     time.Time
	Offset    int
	Limit     int
}

// Analytics summarizes request logs over a time range.
type Analytics struct {
	TotalRequests  int
	SuccessCount   int
	FailureCount   int
	TotalCostUSD   float64
	TotalInTokens  int
	TotalOutTokens int
	P50LatencyMs   int
	P99LatencyMs   int
}

// RequestLogStore manages append-only request-log persistence.
type RequestLogStore interface {
	InsertRequestLogs(ctx context.Context, logs []routex.RequestLog) error
	QueryRequestLogs(ctx context.Context, f RequestLogFilter) ([]routex.RequestLog, error)
	CountRequestLogs(ctx context.Context, f RequestLogFilter) (int, error)
	QueryAnalytics(ctx context.Context, since, until time.Time) (Analytics, error)
	// SumCostSince returns the accumulated cost for a channel since a point
	// in time, backing the per-channel budget tracker.
	SumCostSince(ctx context.Context, channelID string, since time.Time) (float64, error)
}

// ModelPriceStore manages the configurable per-model price table (spec §9
// Open Question resolution: price table is admin-configurable, not a
// hardcoded constant).
type ModelPriceStore interface {
	UpsertModelPrice(ctx context.Context, p *routex.ModelPrice) error
	GetModelPrice(ctx context.Context, model string) (*routex.ModelPrice, error)
	ListModelPrices(ctx context.Context) ([]*routex.ModelPrice, error)
	DeleteModelPrice(ctx context.Context, model string) error
}

// APIKeyStore manages admin-issued API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, k *routex.APIKey) error
	GetKey(ctx context.Context, id string) (*routex.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*routex.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*routex.APIKey, error)
	CountKeys(ctx context.Context) (int, error)
	UpdateKey(ctx context.Context, k *routex.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// Store combines all storage interfaces.
type Store interface {
	ChannelStore
	RuleStore
	TeeStore
	OAuthSessionStore
	RequestLogStore
	ModelPriceStore
	APIKeyStore
	Ping(ctx context.Context) error
	Close() error
}
