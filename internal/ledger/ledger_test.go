package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowlend/shadowlend/internal/keys"
)

func addr(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func TestAddressParsing(t *testing.T) {
	a := addr(0xab)
	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = ParseAddress("not hex")
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ParseAddress("abcd")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = AddressFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidAddress)

	assert.True(t, Address{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestAddressTextRoundTrip(t *testing.T) {
	a := addr(7)
	text, err := a.MarshalText()
	require.NoError(t, err)

	var back Address
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, a, back)

	require.Error(t, back.UnmarshalText([]byte("zz")))
}

func TestObligationRecordSerialization(t *testing.T) {
	r := &ObligationRecord{
		User:        addr(1),
		Pool:        addr(2),
		Initialized: true,
		StateNonce:  keys.NonceFromUint64(17),
		LastUpdate:  1700000000,
	}
	for i := range r.EncryptedState {
		r.EncryptedState[i][0] = byte(10 + i)
	}

	parsed, err := ObligationRecordFromBytes(r.Bytes())
	require.NoError(t, err)
	require.Equal(t, r, parsed)

	// Truncated account data is rejected rather than zero-filled.
	_, err = ObligationRecordFromBytes(r.Bytes()[:50])
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestPoolRecordSerialization(t *testing.T) {
	r := &PoolRecord{
		Authority:            addr(1),
		CollateralMint:       addr(2),
		BorrowMint:           addr(3),
		LTVBps:               7500,
		LiquidationThreshold: 8000,
		LiquidationBonus:     500,
		BorrowRateBps:        350,
	}

	parsed, err := PoolRecordFromBytes(r.Bytes())
	require.NoError(t, err)
	require.Equal(t, r, parsed)

	_, err = PoolRecordFromBytes(nil)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemLedgerClusterKey(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	// Unpublished key reads as zero with no error.
	key, err := l.ClusterPublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, key)

	var published [32]byte
	published[0] = 0xcc
	require.NoError(t, l.SetClusterKey(published))

	key, err = l.ClusterPublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, published, key)
}

func TestMemLedgerObligation(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	obligationAddr := addr(9)

	_, err := l.Obligation(ctx, obligationAddr)
	require.ErrorIs(t, err, ErrRecordNotFound)

	record := &ObligationRecord{
		User:        addr(1),
		Pool:        addr(2),
		Initialized: true,
		StateNonce:  keys.NonceFromUint64(3),
	}
	require.NoError(t, l.SetObligation(obligationAddr, record))

	got, err := l.Obligation(ctx, obligationAddr)
	require.NoError(t, err)
	require.Equal(t, record, got)

	// Overwrite simulates a cluster callback bumping the state nonce.
	record.StateNonce = record.StateNonce.Inc()
	require.NoError(t, l.SetObligation(obligationAddr, record))
	got, err = l.Obligation(ctx, obligationAddr)
	require.NoError(t, err)
	require.True(t, got.StateNonce.Equal(keys.NonceFromUint64(4)))
}

func TestMemLedgerPool(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	poolAddr := addr(5)

	_, err := l.Pool(ctx, poolAddr)
	require.ErrorIs(t, err, ErrRecordNotFound)

	record := &PoolRecord{Authority: addr(1), LTVBps: 7500}
	require.NoError(t, l.SetPool(poolAddr, record))

	got, err := l.Pool(ctx, poolAddr)
	require.NoError(t, err)
	require.Equal(t, record, got)
}
