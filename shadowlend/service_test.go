package shadowlend

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowlend/shadowlend/internal/cipher"
	"github.com/shadowlend/shadowlend/internal/keys"
	"github.com/shadowlend/shadowlend/internal/ledger"
)

// fixedKeySource serves one peer public key, used to build the cluster-side
// view of the ECDH exchange in tests.
type fixedKeySource [32]byte

func (s fixedKeySource) ClusterPublicKey(_ context.Context) ([32]byte, error) {
	return [32]byte(s), nil
}

func fastServiceConfig() *ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Cipher.FetchDelay = time.Millisecond
	cfg.Monitor.PollInterval = time.Millisecond
	cfg.Monitor.FinalizationBudget = time.Second
	cfg.ReadinessBudget = 100 * time.Millisecond
	return cfg
}

// testSession spins up a service over an in-memory ledger with a live
// cluster keypair, and returns the cluster's key manager so tests can act as
// the decrypting side.
func testSession(t *testing.T) (*Service, *ledger.MemLedger, *keys.Manager) {
	t.Helper()

	clusterKeys := keys.NewManager()
	seed := make([]byte, keys.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	require.NoError(t, clusterKeys.InitializeFromSeed(seed))
	clusterPub, err := clusterKeys.PublicKey()
	require.NoError(t, err)

	mem := ledger.NewMemLedger()
	require.NoError(t, mem.SetClusterKey(clusterPub))

	svc, err := NewService(logger.NewLogger("test"), mem, testManifest(), fastServiceConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	userSeed := make([]byte, keys.SeedSize)
	_, err = rand.Read(userSeed)
	require.NoError(t, err)
	require.NoError(t, svc.InitializeSession(context.Background(), testAddr(0x40), userSeed))

	return svc, mem, clusterKeys
}

// clusterCipher builds the decrypting counterpart for a session.
func clusterCipher(t *testing.T, svc *Service, clusterKeys *keys.Manager) *cipher.Cipher[uint64] {
	t.Helper()

	userPub, err := svc.Keys().PublicKey()
	require.NoError(t, err)

	cfg := cipher.DefaultConfig()
	cfg.FetchDelay = time.Millisecond
	c, err := cipher.New[uint64](clusterKeys, fixedKeySource(userPub), cipher.AmountCodec{}, cfg)
	require.NoError(t, err)
	return c
}

func TestServiceRequiresSession(t *testing.T) {
	mem := ledger.NewMemLedger()
	svc, err := NewService(logger.NewLogger("test"), mem, testManifest(), fastServiceConfig(), nil)
	require.NoError(t, err)

	_, err = svc.Borrow(context.Background(), 100)
	require.ErrorIs(t, err, ErrSessionNotInitialized)
	_, err = svc.Deposit(context.Background(), 100)
	require.ErrorIs(t, err, ErrSessionNotInitialized)
}

func TestServiceSessionFailsWithoutCluster(t *testing.T) {
	mem := ledger.NewMemLedger() // no cluster key published
	cfg := fastServiceConfig()
	cfg.Monitor.ReadinessAttempts = 2
	cfg.ReadinessBudget = 5 * time.Millisecond

	svc, err := NewService(logger.NewLogger("test"), mem, testManifest(), cfg, nil)
	require.NoError(t, err)

	seed := make([]byte, keys.SeedSize)
	err = svc.InitializeSession(context.Background(), testAddr(0x40), seed)
	require.ErrorIs(t, err, ErrClusterNotReady)
}

func TestServiceBorrowRoundTrip(t *testing.T) {
	svc, _, clusterKeys := testSession(t)
	ctx := context.Background()

	const amount = uint64(100_000000)
	sub, err := svc.Borrow(ctx, amount)
	require.NoError(t, err)

	require.Equal(t, OpBorrow, sub.Operation)
	require.NotNil(t, sub.EncryptedAmount)
	require.True(t, sub.UserNonce.Equal(keys.Nonce{}), "first operation encrypts at nonce zero")
	require.True(t, svc.Keys().CurrentNonce().Equal(keys.NonceFromUint64(1)),
		"the counter advances once per confidential operation")

	// The cluster recovers the amount from the submission alone.
	decrypter := clusterCipher(t, svc, clusterKeys)
	nonce := sub.UserNonce
	got, err := decrypter.Decrypt(ctx, sub.EncryptedAmount[:], &nonce)
	require.NoError(t, err)
	require.Equal(t, amount, got)
}

func TestServiceDepositIsPlaintext(t *testing.T) {
	svc, _, _ := testSession(t)

	sub, err := svc.Deposit(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sub.PlainAmount)
	assert.Nil(t, sub.EncryptedAmount)
	assert.True(t, svc.Keys().CurrentNonce().Equal(keys.Nonce{}),
		"plaintext operations consume no nonce")
}

func TestServiceConfidentialOperationsShareNonceStream(t *testing.T) {
	svc, _, clusterKeys := testSession(t)
	ctx := context.Background()
	decrypter := clusterCipher(t, svc, clusterKeys)

	amounts := []uint64{10, 20, 30, 40}
	ops := []func(context.Context, uint64) (*Submission, error){
		svc.Borrow, svc.Withdraw, svc.Repay, svc.Spend,
	}

	for i, op := range ops {
		sub, err := op(ctx, amounts[i])
		require.NoError(t, err)
		require.True(t, sub.UserNonce.Equal(keys.NonceFromUint64(uint64(i))))

		nonce := sub.UserNonce
		got, err := decrypter.Decrypt(ctx, sub.EncryptedAmount[:], &nonce)
		require.NoError(t, err)
		require.Equal(t, amounts[i], got)
	}
}

func TestServiceConcurrentBorrowsReportDistinctNonces(t *testing.T) {
	svc, _, clusterKeys := testSession(t)
	ctx := context.Background()
	decrypter := clusterCipher(t, svc, clusterKeys)

	const workers = 8
	type outcome struct {
		amount uint64
		sub    *Submission
		err    error
	}

	start := make(chan struct{})
	outcomes := make(chan outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(amount uint64) {
			defer wg.Done()
			<-start
			sub, err := svc.Borrow(ctx, amount)
			outcomes <- outcome{amount: amount, sub: sub, err: err}
		}(uint64(1_000 + i))
	}
	close(start)
	wg.Wait()
	close(outcomes)

	seen := make(map[uint64]bool, workers)
	for o := range outcomes {
		require.NoError(t, o.err)
		lo := o.sub.UserNonce.Lo()
		require.False(t, seen[lo], "nonce %d reported by two submissions", lo)
		seen[lo] = true

		// Each submission must decrypt under exactly the nonce it reports.
		nonce := o.sub.UserNonce
		got, err := decrypter.Decrypt(ctx, o.sub.EncryptedAmount[:], &nonce)
		require.NoError(t, err)
		require.Equal(t, o.amount, got)
	}
	require.True(t, svc.Keys().CurrentNonce().Equal(keys.NonceFromUint64(workers)))
}

func TestServiceFund(t *testing.T) {
	svc, _, _ := testSession(t)

	sub, err := svc.Fund(context.Background(), 5_000)
	require.NoError(t, err)
	assert.Equal(t, OpFund, sub.Operation)
	assert.Equal(t, uint64(5_000), sub.PlainAmount)
	assert.Nil(t, sub.EncryptedAmount)
	assert.Zero(t, sub.ComputationOffset)
	assert.True(t, sub.Accounts.Computation.IsZero(), "funding queues no computation")
	assert.True(t, svc.Keys().CurrentNonce().Equal(keys.Nonce{}),
		"the plain transfer consumes no nonce")
}

func TestServiceFundBelowMinimum(t *testing.T) {
	svc, _, _ := testSession(t)

	_, err := svc.Fund(context.Background(), MinFundAmount-1)
	require.ErrorIs(t, err, ErrFundBelowMinimum)
}

func TestServiceDecryptAmount(t *testing.T) {
	svc, _, _ := testSession(t)
	ctx := context.Background()

	sub, err := svc.Borrow(ctx, 777)
	require.NoError(t, err)

	nonce := sub.UserNonce
	got, err := svc.DecryptAmount(ctx, *sub.EncryptedAmount, &nonce)
	require.NoError(t, err)
	require.Equal(t, uint64(777), got)
}

func TestServiceLiquidate(t *testing.T) {
	svc, _, _ := testSession(t)

	target := testAddr(0x41)
	sub, err := svc.Liquidate(context.Background(), target, 5_000)
	require.NoError(t, err)
	require.Equal(t, OpLiquidate, sub.Operation)
	require.Equal(t,
		ObligationAddress(testManifest().ProgramID, target, testManifest().Pool),
		sub.Accounts.Obligation)
}

// bumpSubmitter plays the cluster: on submission it writes the obligation
// record back with an advanced state nonce, the ledger-visible finalization
// signal.
type bumpSubmitter struct {
	mem *ledger.MemLedger
}

func (s *bumpSubmitter) Submit(_ context.Context, sub *Submission) error {
	record := &ledger.ObligationRecord{
		User:        testAddr(0x40),
		Pool:        testManifest().Pool,
		Initialized: true,
		StateNonce:  sub.UserNonce.Inc(),
	}
	return s.mem.SetObligation(sub.Accounts.Obligation, record)
}

func TestServiceSubmitAndAwait(t *testing.T) {
	svc, mem, _ := testSession(t)
	ctx := context.Background()

	sub, err := svc.Borrow(ctx, 1_000)
	require.NoError(t, err)

	require.NoError(t, svc.SubmitAndAwait(ctx, sub, &bumpSubmitter{mem: mem}))

	// The local counter followed the ledger's post-callback nonce.
	require.True(t, svc.Keys().CurrentNonce().Equal(keys.NonceFromUint64(1)))
}

func TestServiceSubmitAndAwaitTimeout(t *testing.T) {
	svc, _, _ := testSession(t)
	ctx := context.Background()

	cfgSub, err := svc.Borrow(ctx, 1_000)
	require.NoError(t, err)

	// A submitter that broadcasts but whose computation never lands.
	noop := submitterFunc(func(context.Context, *Submission) error { return nil })
	err = svc.SubmitAndAwait(ctx, cfgSub, noop)
	require.ErrorIs(t, err, ErrFinalizationTimeout)
}

type submitterFunc func(ctx context.Context, sub *Submission) error

func (f submitterFunc) Submit(ctx context.Context, sub *Submission) error { return f(ctx, sub) }

func TestServiceSyncNonce(t *testing.T) {
	svc, mem, _ := testSession(t)
	ctx := context.Background()

	record := &ledger.ObligationRecord{
		User:        testAddr(0x40),
		Pool:        testManifest().Pool,
		Initialized: true,
		StateNonce:  keys.NonceFromUint64(9),
	}
	require.NoError(t, mem.SetObligation(svc.ObligationAddress(), record))

	require.NoError(t, svc.SyncNonce(ctx))
	require.True(t, svc.Keys().CurrentNonce().Equal(keys.NonceFromUint64(9)))
}

// wrapReader decorates a reader so every error comes back wrapped, the way
// an RPC transport layer returns them.
type wrapReader struct {
	inner ledger.Reader
}

func (r wrapReader) ClusterPublicKey(ctx context.Context) ([32]byte, error) {
	return r.inner.ClusterPublicKey(ctx)
}

func (r wrapReader) Obligation(ctx context.Context, addr ledger.Address) (*ledger.ObligationRecord, error) {
	rec, err := r.inner.Obligation(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("obligation query: %w", err)
	}
	return rec, nil
}

func (r wrapReader) Pool(ctx context.Context, addr ledger.Address) (*ledger.PoolRecord, error) {
	rec, err := r.inner.Pool(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("pool query: %w", err)
	}
	return rec, nil
}

func TestServiceSyncNonceWithWrappedErrors(t *testing.T) {
	clusterKeys := keys.NewManager()
	seed := make([]byte, keys.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	require.NoError(t, clusterKeys.InitializeFromSeed(seed))
	clusterPub, err := clusterKeys.PublicKey()
	require.NoError(t, err)

	mem := ledger.NewMemLedger()
	require.NoError(t, mem.SetClusterKey(clusterPub))

	svc, err := NewService(logger.NewLogger("test"), wrapReader{inner: mem}, testManifest(), fastServiceConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	userSeed := make([]byte, keys.SeedSize)
	_, err = rand.Read(userSeed)
	require.NoError(t, err)
	require.NoError(t, svc.InitializeSession(context.Background(), testAddr(0x40), userSeed))

	// No obligation record exists: a wrapped not-found still means a fresh
	// position, not a sync failure.
	svc.Keys().SetNonce(keys.NonceFromUint64(5))
	require.NoError(t, svc.SyncNonce(context.Background()))
	require.True(t, svc.Keys().CurrentNonce().Equal(keys.Nonce{}))
}

func TestServiceCloseZeroizes(t *testing.T) {
	svc, _, _ := testSession(t)
	svc.Close()

	require.False(t, svc.Keys().Initialized())
	_, err := svc.Borrow(context.Background(), 1)
	require.ErrorIs(t, err, ErrSessionNotInitialized)
}
