package disk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/derive"
	"github.com/sigil-mpc/sigil/disk"
	"github.com/sigil-mpc/sigil/keys"
)

func testExpiry() disk.Expiry {
	return disk.Expiry{
		ExpiresAt:              2_000_000_000,
		ReconciliationDeadline: 1_900_000_000,
		MaxUsesBeforeReconcile: 500,
		UsesSinceReconcile:     0,
	}
}

func testHeader(t *testing.T) disk.Header {
	t.Helper()
	master, err := keys.GenerateMasterShard(1)
	require.NoError(t, err)
	pubkey, err := keys.PublicKeyFromBytes(master.PublicPoint())
	require.NoError(t, err)
	childID := keys.ChildIdFromPublicKey(pubkey)
	path := derive.EthereumHardened(0)

	return disk.NewHeader(childID, pubkey, path, disk.DefaultPresigCount, testExpiry(), 1_700_000_000)
}

func TestHeaderBytesRoundTrip(t *testing.T) {
	h := testHeader(t)
	b := h.Bytes()
	assert.Len(t, b, disk.HeaderSize)

	parsed, err := disk.HeaderFromBytes(b[:])
	require.NoError(t, err)
	assert.Equal(t, h.Magic, parsed.Magic)
	assert.Equal(t, h.Version, parsed.Version)
	assert.Equal(t, h.ChildID, parsed.ChildID)
	assert.Equal(t, h.ChildPubkey, parsed.ChildPubkey)
	assert.Equal(t, h.Path, parsed.Path)
	assert.Equal(t, h.PresigTotal, parsed.PresigTotal)
	assert.Equal(t, h.Expiry, parsed.Expiry)
}

func TestHeaderFromBytesRejectsBadMagic(t *testing.T) {
	h := testHeader(t)
	b := h.Bytes()
	b[0] = 'X'

	_, err := disk.HeaderFromBytes(b[:])
	require.Error(t, err)
}

func TestHeaderFromBytesRejectsShortInput(t *testing.T) {
	_, err := disk.HeaderFromBytes(make([]byte, 10))
	require.Error(t, err)
}

func TestHashForSigningExcludesMutableCounters(t *testing.T) {
	h := testHeader(t)
	var commitment [32]byte
	before := h.HashForSigning(commitment)

	h.PresigUsed = 42
	h.Expiry.UsesSinceReconcile = 17
	after := h.HashForSigning(commitment)

	assert.Equal(t, before, after, "mutable counters must not affect the signed digest")
}

func TestHashForSigningChangesWithIdentity(t *testing.T) {
	h1 := testHeader(t)
	h2 := testHeader(t)
	h2.ChildID[0] ^= 0xFF

	var commitment [32]byte
	assert.NotEqual(t, h1.HashForSigning(commitment), h2.HashForSigning(commitment))
}

func TestHashForSigningChangesWithPresigTableCommitment(t *testing.T) {
	h := testHeader(t)
	var c1, c2 [32]byte
	c2[0] ^= 0xFF

	assert.NotEqual(t, h.HashForSigning(c1), h.HashForSigning(c2), "the signed digest must bind the presig table commitment")
}

func TestExpiryLifecycle(t *testing.T) {
	e := testExpiry()
	assert.False(t, e.IsExpired(1_000_000_000))
	assert.True(t, e.IsExpired(3_000_000_000))

	assert.False(t, e.NeedsReconciliation(1_000_000_000))
	assert.True(t, e.NeedsReconciliation(2_000_000_000))

	e.UsesSinceReconcile = 500
	assert.True(t, e.NeedsReconciliation(0))

	reset := e.ResetForReconciliation(9_000_000_000, 8_000_000_000)
	assert.Equal(t, uint32(0), reset.UsesSinceReconcile)
	assert.Equal(t, uint64(9_000_000_000), reset.ExpiresAt)
}
