package presig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/derive"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/presig"
)

func testChildren(t *testing.T) (*keys.ChildShard, *keys.ChildShard) {
	t.Helper()
	master1, err := keys.GenerateMasterShard(1)
	require.NoError(t, err)
	master2, err := keys.GenerateMasterShard(2)
	require.NoError(t, err)

	path := derive.EthereumHardened(0)
	cold, err := derive.DeriveChildShard(master1, path)
	require.NoError(t, err)
	agent, err := derive.DeriveChildShard(master2, path)
	require.NoError(t, err)
	return cold, agent
}

func TestGenerateSingleSharesSameR(t *testing.T) {
	cold, agent := testChildren(t)
	pair, err := presig.GenerateSingle(cold, agent)
	require.NoError(t, err)
	assert.Equal(t, pair.Cold.R, pair.Agent.R)
	assert.Equal(t, presig.Fresh, pair.Cold.Status)
}

func TestGenerateBatchInvariantRMatches(t *testing.T) {
	cold, agent := testChildren(t)
	pairs, err := presig.GenerateBatch(cold, agent, 16)
	require.NoError(t, err)
	require.Len(t, pairs, 16)

	for _, p := range pairs {
		assert.Equal(t, p.Cold.R, p.Agent.R)
	}

	// no two presigs should share the same R by chance in this batch
	seen := map[[33]byte]bool{}
	for _, p := range pairs {
		assert.False(t, seen[p.Cold.R])
		seen[p.Cold.R] = true
	}
}

func TestSplitShares(t *testing.T) {
	cold, agent := testChildren(t)
	pairs, err := presig.GenerateBatch(cold, agent, 4)
	require.NoError(t, err)

	coldShares, agentShares := presig.SplitShares(pairs)
	require.Len(t, coldShares, 4)
	require.Len(t, agentShares, 4)
	for i := range pairs {
		assert.Equal(t, pairs[i].Cold, coldShares[i])
		assert.Equal(t, pairs[i].Agent, agentShares[i])
	}
}

func TestGenerateBatchRejectsNonPositiveCount(t *testing.T) {
	cold, agent := testChildren(t)
	_, err := presig.GenerateBatch(cold, agent, 0)
	require.Error(t, err)
}
