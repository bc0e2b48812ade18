package candidates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vglm/addressology/internal/app/domain/candidate"
	"github.com/vglm/addressology/internal/app/scorer"
	"github.com/vglm/addressology/internal/app/storage"
	"github.com/vglm/addressology/internal/app/storage/memory"
)

func seed(t *testing.T, store *memory.Store, cs ...candidate.Candidate) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, store.InsertCandidate(context.Background(), c))
	}
}

func TestListFreeOnly(t *testing.T) {
	store := memory.New()
	seed(t, store,
		candidate.Candidate{Address: "0x000000000a562fd1c62ad0f2a1e78b4d0ab0fb5d", Score: 3e10},
		candidate.Candidate{Address: "0x000000000b562fd1c62ad0f2a1e78b4d0ab0fb5d", Score: 2e10, OwnerID: "user-1"},
	)
	svc := New(store, nil)

	free, err := svc.List(context.Background(), storage.CandidateFilter{Free: true})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "0x000000000a562fd1c62ad0f2a1e78b4d0ab0fb5d", free[0].Address)
}

func TestReserve(t *testing.T) {
	store := memory.New()
	const addr = "0x000000000a562fd1c62ad0f2a1e78b4d0ab0fb5d"
	seed(t, store, candidate.Candidate{Address: addr, Score: 3e10})
	svc := New(store, nil)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, addr, "")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := svc.Reserve(ctx, addr, "user-1")
	require.NoError(t, err)
	assert.True(t, got.Reserved())

	_, err = svc.Reserve(ctx, addr, "user-2")
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = svc.Reserve(ctx, "0x000000000c562fd1c62ad0f2a1e78b4d0ab0fb5d", "user-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepriceFollowsCurrentRules(t *testing.T) {
	store := memory.New()
	const addr = "0x000000000a562fd1c62ad0f2a1e78b4d0ab0fb5d"
	// Stored with a stale price from an older rule set.
	seed(t, store, candidate.Candidate{Address: addr, Score: 68719476736, Price: 1})
	svc := New(store, nil)

	got, err := svc.Reprice(context.Background(), addr)
	require.NoError(t, err)

	want := scorer.ScoreAddress(addr).Price
	assert.Equal(t, want, got.Price)

	stored, err := store.GetCandidate(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, want, stored.Price)
}
