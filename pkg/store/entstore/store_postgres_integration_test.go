//go:build integration

package entstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nitkach/mares/pkg/store"
)

func openPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("mares"),
		tcpostgres.WithUsername("mares"),
		tcpostgres.WithPassword("mares"),
		tcpostgres.WithSQLDriver("pgx"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	// Migrate is idempotent.
	require.NoError(t, st.Migrate(ctx))
	return st
}

func TestPostgres_RecordLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openPostgres(t)
	require.Equal(t, "postgres", st.Dialect())

	id, err := st.Create(ctx, "Twilight", store.BreedUnicorn)
	require.NoError(t, err)
	v0, ok, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := st.Update(ctx, id, "Twilight Sparkle", store.BreedUnicorn, v0.ModifiedAt)
	require.NoError(t, err)
	require.Equal(t, store.SetSuccess, res)

	res, err = st.Update(ctx, id, "X", store.BreedEarth, v0.ModifiedAt)
	require.NoError(t, err)
	require.Equal(t, store.SetModifiedAtConflict, res)

	v1, _, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Twilight Sparkle", v1.Name)
	require.True(t, v1.ModifiedAt.After(v0.ModifiedAt))

	removed, ok, err := st.Remove(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v1, removed)

	res, err = st.Update(ctx, id, "X", store.BreedEarth, v1.ModifiedAt)
	require.NoError(t, err)
	require.Equal(t, store.SetRecordNotFound, res)
}

func TestPostgres_NoLostUpdateUnderContention(t *testing.T) {
	ctx := context.Background()
	st := openPostgres(t)

	id, err := st.Create(ctx, "Rainbow", store.BreedPegasus)
	require.NoError(t, err)
	v0, _, err := st.Get(ctx, id)
	require.NoError(t, err)

	names := make([]string, 16)
	for i := range names {
		names[i] = nameFor(i)
	}
	results, errs := raceUpdates(ctx, st, id, v0.ModifiedAt, names)
	wins := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		if r == store.SetSuccess {
			wins++
		} else {
			require.Equal(t, store.SetModifiedAtConflict, r)
		}
	}
	require.Equal(t, 1, wins)
}

// Pages must be identical on both engines for the same id sequence.
func TestParity_SQLite_vs_Postgres_Pagination(t *testing.T) {
	ctx := context.Background()
	pg := openPostgres(t)
	lite := openSQLite(t)

	ids, err := seed(ctx, pg, 12)
	require.NoError(t, err)
	all, err := pg.List(ctx)
	require.NoError(t, err)
	// Replay the same ids into SQLite so both engines order identical keys.
	for _, r := range all {
		q, args := lite.builder().Insert(tableMares).
			Columns(recordColumns...).
			Values(r.ID, r.Name, int16(r.Breed), r.ModifiedAt).
			Query()
		_, err := lite.db.ExecContext(ctx, q, args...)
		require.NoError(t, err)
	}

	for _, tc := range []struct {
		cursor string
		dir    store.Direction
	}{
		{"", store.First},
		{ids[4], store.Next},
		{ids[9], store.Next},
		{ids[11], store.Next},
		{ids[7], store.Previous},
		{ids[0], store.Previous},
	} {
		a, err := pg.Page(ctx, tc.cursor, tc.dir)
		require.NoError(t, err)
		b, err := lite.Page(ctx, tc.cursor, tc.dir)
		require.NoError(t, err)
		require.Equal(t, recordIDs(a), recordIDs(b), "cursor=%s dir=%s", tc.cursor, tc.dir)
	}
}
