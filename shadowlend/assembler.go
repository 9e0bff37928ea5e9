package shadowlend

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shadowlend/shadowlend/internal/keys"
	"github.com/shadowlend/shadowlend/internal/ledger"
)

// CiphertextSize is the wire size of one encrypted amount.
const CiphertextSize = 32

// Ciphertext is one encrypted scalar value as submitted on-chain.
type Ciphertext [CiphertextSize]byte

// CiphertextFromBytes copies an encrypted blob into the fixed wire form.
func CiphertextFromBytes(b []byte) (Ciphertext, error) {
	var ct Ciphertext
	if len(b) != CiphertextSize {
		return ct, fmt.Errorf("ciphertext must be %d bytes, got %d", CiphertextSize, len(b))
	}
	copy(ct[:], b)
	return ct, nil
}

// Submission is one fully assembled confidential operation, ready for the
// external signing and broadcast layer. Exactly one of PlainAmount /
// EncryptedAmount carries the operation payload, depending on whether the
// amount is intentionally public for that operation.
type Submission struct {
	Operation         Operation
	ComputationOffset uint64
	Accounts          ComputationAccountSet

	PlainAmount     uint64
	EncryptedAmount *Ciphertext

	UserPublicKey [32]byte
	UserNonce     keys.Nonce

	// Liquidation targets another user's obligation.
	TargetObligation ledger.Address

	// Pool provisioning parameters (OpInitializePool only).
	Authority            ledger.Address
	LTVBps               uint16
	LiquidationThreshold uint16
}

// Assembler builds confidential operation submissions. Assembly is pure,
// deterministic construction over the deployment manifest and the supplied
// identities; the only entropy is the per-call computation offset, and there
// is no I/O and no retry logic here.
type Assembler struct {
	manifest      *Manifest
	clusterOffset uint32
}

// NewAssembler creates an assembler over a validated deployment manifest.
func NewAssembler(manifest *Manifest) (*Assembler, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		manifest:      manifest,
		clusterOffset: manifest.ClusterOffset,
	}, nil
}

// NewComputationOffset draws a fresh random 64-bit computation identifier.
// Offsets are never reused: each submission gets its own, and collision
// probability among in-flight requests is negligible at 64 bits of OS
// randomness.
func NewComputationOffset() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, fmt.Errorf("generate computation offset: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// accountsFor derives the account bundle for one request. The obligation is
// derived from (user, pool) and the token account from (tokenOwner, mint);
// users cannot substitute accounts of their choosing.
func (a *Assembler) accountsFor(circuit string, user ledger.Address, mint ledger.Address, computationOffset uint64) ComputationAccountSet {
	program := a.manifest.ProgramID
	pool := a.manifest.Pool

	return ComputationAccountSet{
		Program:       program,
		Cluster:       ClusterAddress(program, a.clusterOffset),
		Mempool:       MempoolAddress(program, a.clusterOffset),
		ExecutingPool: ExecutingPoolAddress(program, a.clusterOffset),
		CompDef:       CompDefAddress(program, circuit),
		Computation:   ComputationAddress(program, a.clusterOffset, computationOffset),
		Signer:        SignerAddress(program),
		FeePool:       FeePoolAddress(program),

		Pool:             pool,
		Obligation:       ObligationAddress(program, user, pool),
		CollateralVault:  a.manifest.CollateralVault,
		BorrowVault:      a.manifest.BorrowVault,
		UserTokenAccount: TokenAccountAddress(program, user, mint),
	}
}

// MinFundAmount is the smallest vault funding the ledger accepts; anything
// below it is rejected before it costs the user a transaction fee.
const MinFundAmount = 1000

// transferAccounts derives the reduced bundle for instructions that move
// tokens or provision state directly, without routing through the cluster.
func (a *Assembler) transferAccounts(user ledger.Address, mint ledger.Address) ComputationAccountSet {
	program := a.manifest.ProgramID
	pool := a.manifest.Pool

	return ComputationAccountSet{
		Program:          program,
		Pool:             pool,
		Obligation:       ObligationAddress(program, user, pool),
		CollateralVault:  a.manifest.CollateralVault,
		BorrowVault:      a.manifest.BorrowVault,
		UserTokenAccount: TokenAccountAddress(program, user, mint),
	}
}

// Fund assembles the visible half of the two-phase deposit: a plain token
// transfer from the user's collateral token account into the vault. No
// computation is queued; the confidential balance update happens later when
// the deposit itself is submitted.
func (a *Assembler) Fund(user ledger.Address, amount uint64) (*Submission, error) {
	if amount < MinFundAmount {
		return nil, fmt.Errorf("%w: %d is below %d", ErrFundBelowMinimum, amount, MinFundAmount)
	}

	return &Submission{
		Operation:   OpFund,
		Accounts:    a.transferAccounts(user, a.manifest.CollateralMint),
		PlainAmount: amount,
	}, nil
}

// Deposit assembles a collateral deposit. The amount is plaintext: the token
// transfer into the vault is publicly verified, only the resulting balance
// update is confidential.
func (a *Assembler) Deposit(user ledger.Address, amount uint64, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	return &Submission{
		Operation:         OpDeposit,
		ComputationOffset: offset,
		Accounts:          a.accountsFor(CircuitDeposit, user, a.manifest.CollateralMint, offset),
		PlainAmount:       amount,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
	}, nil
}

// Borrow assembles a confidential borrow: the requested amount travels only
// as ciphertext, the cluster runs the health-factor check privately.
func (a *Assembler) Borrow(user ledger.Address, amount Ciphertext, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	ct := amount
	return &Submission{
		Operation:         OpBorrow,
		ComputationOffset: offset,
		Accounts:          a.accountsFor(CircuitBorrow, user, a.manifest.BorrowMint, offset),
		EncryptedAmount:   &ct,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
	}, nil
}

// Withdraw assembles a confidential collateral withdrawal.
func (a *Assembler) Withdraw(user ledger.Address, amount Ciphertext, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	ct := amount
	return &Submission{
		Operation:         OpWithdraw,
		ComputationOffset: offset,
		Accounts:          a.accountsFor(CircuitWithdraw, user, a.manifest.CollateralMint, offset),
		EncryptedAmount:   &ct,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
	}, nil
}

// Repay assembles a confidential debt repayment.
func (a *Assembler) Repay(user ledger.Address, amount Ciphertext, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	ct := amount
	return &Submission{
		Operation:         OpRepay,
		ComputationOffset: offset,
		Accounts:          a.accountsFor(CircuitRepay, user, a.manifest.BorrowMint, offset),
		EncryptedAmount:   &ct,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
	}, nil
}

// Spend assembles a confidential spend from internal credit. Approval and
// the revealed transfer amount are decided by the cluster.
func (a *Assembler) Spend(user ledger.Address, amount Ciphertext, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	ct := amount
	return &Submission{
		Operation:         OpSpend,
		ComputationOffset: offset,
		Accounts:          a.accountsFor(CircuitSpend, user, a.manifest.BorrowMint, offset),
		EncryptedAmount:   &ct,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
	}, nil
}

// Liquidate assembles a liquidation attempt against another user's
// obligation. The repay amount is plaintext (the liquidator's escrow
// transfer is public); whether the target is actually liquidatable is
// decided confidentially by the cluster.
func (a *Assembler) Liquidate(liquidator, target ledger.Address, repayAmount uint64, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error) {
	offset, err := NewComputationOffset()
	if err != nil {
		return nil, err
	}

	accounts := a.accountsFor(CircuitLiquidate, liquidator, a.manifest.BorrowMint, offset)
	targetObligation := ObligationAddress(a.manifest.ProgramID, target, a.manifest.Pool)
	accounts.Obligation = targetObligation

	return &Submission{
		Operation:         OpLiquidate,
		ComputationOffset: offset,
		Accounts:          accounts,
		PlainAmount:       repayAmount,
		UserPublicKey:     userPublicKey,
		UserNonce:         nonce,
		TargetObligation:  targetObligation,
	}, nil
}

// InitializePool assembles the one-time pool provisioning instruction with
// its public risk parameters. Provisioning only creates the pool and vault
// accounts on the ledger; no computation is queued and no circuit is
// involved, so the bundle carries no computation cells.
func (a *Assembler) InitializePool(authority ledger.Address, ltvBps, liquidationThreshold uint16) (*Submission, error) {
	program := a.manifest.ProgramID
	pool := a.manifest.Pool

	return &Submission{
		Operation: OpInitializePool,
		Accounts: ComputationAccountSet{
			Program:         program,
			Pool:            pool,
			CollateralVault: a.manifest.CollateralVault,
			BorrowVault:     a.manifest.BorrowVault,
			Signer:          SignerAddress(program),
		},
		Authority:            authority,
		LTVBps:               ltvBps,
		LiquidationThreshold: liquidationThreshold,
	}, nil
}
