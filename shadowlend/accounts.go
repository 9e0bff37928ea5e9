// Package shadowlend assembles confidential lending operations for the
// ShadowLend protocol: it derives the account bundle that routes an encrypted
// request through the ledger to the MPC cluster, and monitors the
// asynchronous lifecycle of submitted computations.
package shadowlend

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/shadowlend/shadowlend/internal/ledger"
)

// Operation identifies one confidential lending instruction.
type Operation string

const (
	OpFund           Operation = "fund"
	OpDeposit        Operation = "deposit"
	OpBorrow         Operation = "borrow"
	OpWithdraw       Operation = "withdraw"
	OpRepay          Operation = "repay"
	OpSpend          Operation = "spend"
	OpLiquidate      Operation = "liquidate"
	OpInitializePool Operation = "initialize_pool"
)

// Circuit names registered with the cluster. Interest accrual is a
// cluster-side crank with no user-supplied input, so it has a definition
// cell but no client builder.
const (
	CircuitDeposit   = "deposit"
	CircuitBorrow    = "borrow"
	CircuitWithdraw  = "withdraw"
	CircuitRepay     = "repay"
	CircuitSpend     = "spend"
	CircuitLiquidate = "liquidate"
	CircuitInterest  = "interest"
)

// Account seed prefixes, mirroring the on-chain program's derivation seeds.
var (
	seedPool            = []byte("pool")
	seedObligation      = []byte("obligation")
	seedCollateralVault = []byte("collateral_vault")
	seedBorrowVault     = []byte("borrow_vault")
	seedSigner          = []byte("ArciumSignerAccount")
	seedCluster         = []byte("cluster")
	seedMempool         = []byte("mempool")
	seedExecutingPool   = []byte("executing_pool")
	seedComputation     = []byte("computation")
	seedCompDef         = []byte("comp_def")
	seedFeePool         = []byte("fee_pool")
	seedTokenAccount    = []byte("token")
)

// addressDomain separates this derivation from any other hash use.
const addressDomain = "shadowlend:pda"

// DeriveAddress computes a deterministic account address from public inputs
// only: a SHA-256 over length-prefixed seeds, the program id and a domain
// tag. Any party holding the same inputs reproduces the same address.
func DeriveAddress(program ledger.Address, seeds ...[]byte) ledger.Address {
	h := sha256.New()
	var lenBuf [2]byte
	for _, seed := range seeds {
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(seed)))
		h.Write(lenBuf[:])
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(addressDomain))

	var addr ledger.Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// CompDefOffset derives a circuit's computation-definition offset from its
// name: the first four bytes of SHA-256, little-endian.
func CompDefOffset(circuit string) uint32 {
	digest := sha256.Sum256([]byte(circuit))
	return binary.LittleEndian.Uint32(digest[:4])
}

func uint32Seed(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func uint64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// PoolAddress derives the singleton pool account.
func PoolAddress(program ledger.Address) ledger.Address {
	return DeriveAddress(program, seedPool)
}

// ObligationAddress derives a user's position record. It is a pure function
// of (user, pool): users cannot choose their obligation account, the ledger
// rejects submissions referencing anyone else's.
func ObligationAddress(program, user, pool ledger.Address) ledger.Address {
	return DeriveAddress(program, seedObligation, user[:], pool[:])
}

// CollateralVaultAddress derives the pool's collateral token vault.
func CollateralVaultAddress(program, pool ledger.Address) ledger.Address {
	return DeriveAddress(program, seedCollateralVault, pool[:])
}

// BorrowVaultAddress derives the pool's borrow token vault.
func BorrowVaultAddress(program, pool ledger.Address) ledger.Address {
	return DeriveAddress(program, seedBorrowVault, pool[:])
}

// SignerAddress derives the program's cluster-callback signer account.
func SignerAddress(program ledger.Address) ledger.Address {
	return DeriveAddress(program, seedSigner)
}

// ClusterAddress derives the cluster record for a cohort offset.
func ClusterAddress(program ledger.Address, clusterOffset uint32) ledger.Address {
	return DeriveAddress(program, seedCluster, uint32Seed(clusterOffset))
}

// MempoolAddress derives the cluster cohort's mempool account.
func MempoolAddress(program ledger.Address, clusterOffset uint32) ledger.Address {
	return DeriveAddress(program, seedMempool, uint32Seed(clusterOffset))
}

// ExecutingPoolAddress derives the cluster cohort's executing pool.
func ExecutingPoolAddress(program ledger.Address, clusterOffset uint32) ledger.Address {
	return DeriveAddress(program, seedExecutingPool, uint32Seed(clusterOffset))
}

// ComputationAddress derives the per-request computation cell from the
// random computation offset.
func ComputationAddress(program ledger.Address, clusterOffset uint32, computationOffset uint64) ledger.Address {
	return DeriveAddress(program, seedComputation, uint32Seed(clusterOffset), uint64Seed(computationOffset))
}

// CompDefAddress derives a circuit's computation-definition account.
func CompDefAddress(program ledger.Address, circuit string) ledger.Address {
	return DeriveAddress(program, seedCompDef, uint32Seed(CompDefOffset(circuit)))
}

// FeePoolAddress derives the cluster fee pool.
func FeePoolAddress(program ledger.Address) ledger.Address {
	return DeriveAddress(program, seedFeePool)
}

// TokenAccountAddress derives the token-holding account for a user key and
// asset mint.
func TokenAccountAddress(program, owner, mint ledger.Address) ledger.Address {
	return DeriveAddress(program, seedTokenAccount, owner[:], mint[:])
}

// ComputationAccountSet is the full deterministic account bundle routing one
// confidential request. Every field is a pure function of public
// identifiers; the ledger re-derives and validates the bundle on submission.
type ComputationAccountSet struct {
	Program       ledger.Address
	Cluster       ledger.Address
	Mempool       ledger.Address
	ExecutingPool ledger.Address
	CompDef       ledger.Address
	Computation   ledger.Address
	Signer        ledger.Address
	FeePool       ledger.Address

	Pool             ledger.Address
	Obligation       ledger.Address
	CollateralVault  ledger.Address
	BorrowVault      ledger.Address
	UserTokenAccount ledger.Address
}
