package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := migrationFiles(testMigrationsDir, ".up.sql")
	require.NoError(t, err)
	downs, err := migrationFiles(testMigrationsDir, ".down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups, "no migrations discovered")
	require.Len(t, downs, len(ups))

	for i := range ups {
		up := strings.TrimSuffix(filepath.Base(ups[i]), ".up.sql")
		down := strings.TrimSuffix(filepath.Base(downs[i]), ".down.sql")
		assert.Equal(t, up, down, "migration %d has mismatched up/down names", i)
	}
}
