package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", driverURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/db", driverURL("postgresql://localhost/db"))
	require.Equal(t, "pgx5://already", driverURL("pgx5://already"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.NotZero(t, ups)
	require.Equal(t, ups, downs)
}
