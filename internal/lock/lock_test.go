package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveLockIDIsStableAndPositive(t *testing.T) {
	ids := []string{
		"3fa85f64-5717-4562-b3fc-2c963f66afa6",
		"11111111-1111-1111-1111-111111111111",
		"",
		"not-a-uuid-at-all",
	}
	for _, id := range ids {
		a := DeriveLockID(id)
		b := DeriveLockID(id)
		assert.Equal(t, a, b, "derivation must be deterministic for %q", id)
		assert.GreaterOrEqual(t, a, int64(0))
		assert.Less(t, a, int64(maxLockID))
	}
}

func TestDeriveLockIDDiffersAcrossSources(t *testing.T) {
	a := DeriveLockID("source-a")
	b := DeriveLockID("source-b")
	assert.NotEqual(t, a, b)
}
