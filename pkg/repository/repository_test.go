package repository

import (
	"context"
	"testing"
	"time"

	"bizops-incentives/pkg/db/option"
	"bizops-incentives/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID        string `gorm:"primaryKey"`
	Owner     string
	Score     int
	CreatedAt time.Time
}

func TestStoreRoundTrip(t *testing.T) {
	db := testutil.NewTestDB(t, &note{})
	repo := ProvideStore[note](db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.BatchCreate(ctx, []*note{
		{ID: "n1", Owner: "alice", Score: 1, CreatedAt: base},
		{ID: "n2", Owner: "alice", Score: 5, CreatedAt: base.Add(time.Minute)},
		{ID: "n3", Owner: "bob", Score: 9, CreatedAt: base.Add(2 * time.Minute)},
	}))

	found, err := repo.FindOne(ctx, &note{ID: "missing"})
	require.NoError(t, err)
	require.Nil(t, found)

	latest, err := repo.FindOne(ctx, &note{Owner: "alice"}, option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}))
	require.NoError(t, err)
	require.Equal(t, "n2", latest.ID)

	high, err := repo.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "score", Operator: option.GT, Value: 2}))
	require.NoError(t, err)
	require.Len(t, high, 2)

	count, err := repo.Count(ctx, &note{Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, repo.Update(ctx, "n1", map[string]any{"score": 7}))
	updated, err := repo.FindOne(ctx, &note{ID: "n1"})
	require.NoError(t, err)
	require.Equal(t, 7, updated.Score)

	require.ErrorIs(t, repo.Update(ctx, "missing", map[string]any{"score": 1}), gorm.ErrRecordNotFound)
}

func TestStoreWithTrxRollsBack(t *testing.T) {
	db := testutil.NewTestDB(t, &note{})
	repo := ProvideStore[note](db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTrx(tx).Create(ctx, &note{ID: "tx", Owner: "carol"}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	found, err := repo.FindOne(ctx, &note{ID: "tx"})
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestSortByIgnoresFieldsOutsideAllowList(t *testing.T) {
	db := testutil.NewTestDB(t, &note{})
	repo := ProvideStore[note](db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &note{ID: "a", Score: 2}))
	require.NoError(t, repo.Create(ctx, &note{ID: "b", Score: 1}))

	rows, err := repo.Find(ctx, nil, option.WithSortBy(option.QuerySortBy{
		SortBy:  "score; drop table notes",
		OrderBy: "asc",
		Allow:   map[string]bool{"score": true},
	}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestWithIDMatchesZeroValueExactly(t *testing.T) {
	db := testutil.NewTestDB(t, &note{})
	repo := ProvideStore[note](db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &note{ID: "n1", Owner: "alice"}))

	loose, err := repo.FindOne(ctx, &note{ID: ""})
	require.NoError(t, err)
	require.NotNil(t, loose)

	found, err := repo.FindOne(ctx, nil, option.WithID(""))
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = repo.FindOne(ctx, nil, option.WithID("n1"))
	require.NoError(t, err)
	require.Equal(t, "alice", found.Owner)
}
