package curve_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/curve"
)

func TestScalarFromBytesRejectsZero(t *testing.T) {
	_, err := curve.ScalarFromBytes(make([]byte, 32))
	require.Error(t, err)
}

func TestScalarBaseMultIsDeterministic(t *testing.T) {
	k := big.NewInt(42)
	p1 := curve.ScalarBaseMult(k)
	p2 := curve.ScalarBaseMult(k)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1, 33)
}

func TestAddCompressedMatchesCombinedScalar(t *testing.T) {
	a := big.NewInt(7)
	b := big.NewInt(11)
	sum := new(big.Int).Add(a, b)
	sum.Mod(sum, curve.N())

	pa := curve.ScalarBaseMult(a)
	pb := curve.ScalarBaseMult(b)
	combined, err := curve.AddCompressed(pa, pb)
	require.NoError(t, err)

	direct := curve.ScalarBaseMult(sum)
	assert.Equal(t, direct, combined)
}

func TestXFromCompressedReducesModN(t *testing.T) {
	p := curve.ScalarBaseMult(big.NewInt(99))
	r, err := curve.XFromCompressed(p)
	require.NoError(t, err)
	assert.True(t, r.Sign() > 0)
	assert.True(t, r.Cmp(curve.N()) < 0)
}

func TestKeccak256DiffersFromSHA256(t *testing.T) {
	msg := []byte("sigil")
	a := curve.SHA256(msg)
	b := curve.Keccak256(msg)
	assert.NotEqual(t, a, b)
}
