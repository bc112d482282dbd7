package derive

import (
	"bytes"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guess5/match-payout-poc/internal/ledger"
)

var (
	testVault   = base58.Encode(bytes.Repeat([]byte{0x11}, 32))
	testProgram = base58.Encode(bytes.Repeat([]byte{0x22}, 32))
)

func TestProposalAddressDeterministic(t *testing.T) {
	a, err := ProposalAddress(testVault, 7, testProgram)
	require.NoError(t, err)
	b, err := ProposalAddress(testVault, 7, testProgram)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	decoded, err := base58.Decode(a)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestProposalAddressVariesWithInputs(t *testing.T) {
	base, err := ProposalAddress(testVault, 3, testProgram)
	require.NoError(t, err)

	otherIndex, err := ProposalAddress(testVault, 4, testProgram)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherIndex)

	otherVault := base58.Encode(bytes.Repeat([]byte{0x33}, 32))
	fromOtherVault, err := ProposalAddress(otherVault, 3, testProgram)
	require.NoError(t, err)
	assert.NotEqual(t, base, fromOtherVault)
}

func TestProposalAddressOffCurve(t *testing.T) {
	for i := int64(0); i < 20; i++ {
		addr, err := ProposalAddress(testVault, i, testProgram)
		require.NoError(t, err)
		decoded, err := base58.Decode(addr)
		require.NoError(t, err)
		assert.False(t, onCurve(decoded), "derived address must be off curve (index %d)", i)
	}
}

func TestProposalAddressInvalidVault(t *testing.T) {
	cases := []string{"", "not-base58-0OIl", base58.Encode([]byte{1, 2, 3})}
	for _, vault := range cases {
		_, err := ProposalAddress(vault, 1, testProgram)
		assert.ErrorIs(t, err, ledger.ErrInvalidAddress, "vault %q", vault)
	}
}
