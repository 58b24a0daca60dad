package shared

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// keyTable answers the claim insert like ON CONFLICT DO NOTHING would.
type keyTable struct {
	keys map[string]string
}

func (k *keyTable) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	key := args[0].(string)
	if _, ok := k.keys[key]; ok {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	k.keys[key] = args[1].(string)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (k *keyTable) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not used")
}

func (k *keyTable) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not used")
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	q := &keyTable{keys: map[string]string{}}
	key := StocktakeItemKey("s1", 4)

	ok, err := Claim(ctx, q, key, "ledger")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ledger", q.keys["stocktake:s1:part:4"])

	ok, err = Claim(ctx, q, key, "ledger")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = Claim(ctx, q, "", "ledger")
	require.Error(t, err)
	_, err = Claim(ctx, q, key, "")
	require.Error(t, err)
}
