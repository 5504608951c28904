//go:build integration

package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tutela/internal/audit"
	"tutela/internal/policy"
	"tutela/pkg/platform/sentinel"
	"tutela/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *policy.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = policy.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestPutGetRoundTrip() {
	ctx := context.Background()
	expires := time.Now().UTC().Truncate(time.Millisecond).Add(time.Hour)
	d := policy.Decision{
		PolicyID:    uuid.New(),
		PolicyName:  "export-gate",
		Version:     "1.2.0",
		Enforcement: policy.EnforcementMandatory,
		Outcome:     policy.OutcomeConditional,
		Rule:        "review-large",
		Conditions:  []policy.Condition{{Kind: "approval_required", ExpiresAt: &expires}},
		Explanation: []string{"rule review-large matched"},
		EvaluatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	s.Require().NoError(s.cache.Put(ctx, "decision-key", d, time.Minute))

	got, err := s.cache.Get(ctx, "decision-key")
	s.Require().NoError(err)
	s.Equal(d.PolicyID, got.PolicyID)
	s.Equal(d.Outcome, got.Outcome)
	s.Equal(d.Rule, got.Rule)
	s.Equal(d.Enforcement, got.Enforcement)
	s.Require().Len(got.Conditions, 1)
	s.WithinDuration(expires, *got.Conditions[0].ExpiresAt, time.Millisecond)
	s.Equal(d.Explanation, got.Explanation)
}

func (s *RedisCacheSuite) TestGetMissingKey() {
	_, err := s.cache.Get(context.Background(), "absent")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisCacheSuite) TestEntriesExpire() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Put(ctx, "fleeting", policy.Decision{Version: "1.0.0"}, 500*time.Millisecond))

	_, err := s.cache.Get(ctx, "fleeting")
	s.Require().NoError(err)

	time.Sleep(time.Second)

	_, err = s.cache.Get(ctx, "fleeting")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestServiceOverRedisCache proves a second identical evaluation is served
// from Redis while still landing its own audit entry.
func (s *RedisCacheSuite) TestServiceOverRedisCache() {
	ctx := context.Background()
	auditSvc := audit.NewService(audit.NewMemoryStore())
	svc, err := policy.NewService(policy.NewMemoryStore(), auditSvc, policy.WithCache(s.cache))
	s.Require().NoError(err)

	created, err := svc.Create(ctx, policy.CreateRequest{
		Name:        "export-gate",
		Body:        storedBody,
		Syntax:      policy.SyntaxYAML,
		Enforcement: policy.EnforcementMandatory,
		Actor:       "compliance.officer",
	})
	s.Require().NoError(err)

	req := policy.EvaluateRequest{
		PolicyID: created.ID,
		Input:    map[string]any{"country": "US"},
		Actor:    "svc.export",
	}
	first, err := svc.Evaluate(ctx, req)
	s.Require().NoError(err)
	s.False(first.Cached)

	second, err := svc.Evaluate(ctx, req)
	s.Require().NoError(err)
	s.True(second.Cached)
	s.Equal(first.Outcome, second.Outcome)

	entries, err := auditSvc.Query(ctx, audit.QueryCriteria{
		EventTypes: []audit.EventType{audit.EventPolicyEvaluated},
	})
	s.Require().NoError(err)
	s.Len(entries, 2)
}
