package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "policies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPolicyCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetPolicy(ctx, "xgb")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertPolicy(ctx, FamilyPolicy{Family: "xgb", Threshold: 0.7}))
	require.NoError(t, s.UpsertPolicy(ctx, FamilyPolicy{Family: "lr", LegacyDisabled: true}))
	require.NoError(t, s.UpsertPolicy(ctx, FamilyPolicy{Family: "xgb", Threshold: 0.65}))

	p, ok, err := s.GetPolicy(ctx, "xgb")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.65, p.Threshold)
	assert.False(t, p.LegacyDisabled)
	assert.False(t, p.UpdatedAt.IsZero())

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lr", all[0].Family)
	assert.True(t, all[0].LegacyDisabled)

	require.NoError(t, s.DeletePolicy(ctx, "lr"))
	_, ok, err = s.GetPolicy(ctx, "lr")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.UpsertPolicy(ctx, FamilyPolicy{Family: "rf", Threshold: 1.5}), ErrInvalidPolicy)
	assert.ErrorIs(t, s.UpsertPolicy(ctx, FamilyPolicy{Threshold: 0.5}), ErrInvalidPolicy)
}

func TestPromotions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordPromotion(ctx, "xgb", "", "v1", at))
	require.NoError(t, s.RecordPromotion(ctx, "xgb", "v1", "v2", at.Add(time.Hour)))
	require.NoError(t, s.RecordPromotion(ctx, "lr", "", "v9", at))

	got, err := s.ListPromotions(ctx, "xgb", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].To)
	assert.Equal(t, "v1", got[0].From)
	assert.True(t, got[1].PromotedAt.Equal(at))

	got, err = s.ListPromotions(ctx, "xgb", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
