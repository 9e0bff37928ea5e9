package shadowlend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowlend/shadowlend/internal/cipher"
	"github.com/shadowlend/shadowlend/internal/keys"
	"github.com/shadowlend/shadowlend/internal/ledger"
)

// Submitter signs and broadcasts an assembled submission. Signing and
// broadcast live outside this core; ledger-side rejections (account
// mismatch, insufficient balance) propagate from here uninterpreted.
type Submitter interface {
	Submit(ctx context.Context, sub *Submission) error
}

// ServiceConfig configures one client session.
type ServiceConfig struct {
	Cipher  cipher.Config
	Monitor MonitorConfig
	// ReadinessBudget is the wall-clock budget for WaitClusterReady during
	// session setup.
	ReadinessBudget time.Duration
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Cipher:          cipher.DefaultConfig(),
		Monitor:         DefaultMonitorConfig(),
		ReadinessBudget: 30 * time.Second,
	}
}

// Service is the confidential client facade: it owns the session key
// manager, the amount cipher, the request assembler and the lifecycle
// monitor, and exposes one entry point per lending operation.
type Service struct {
	*logger.WrappedLogger

	keys      *keys.Manager
	amounts   *cipher.Cipher[uint64]
	assembler *Assembler
	monitor   *Monitor
	manifest  *Manifest
	reader    ledger.Reader
	metrics   *Metrics
	cfg       *ServiceConfig

	user ledger.Address
}

// NewService wires a client session over a ledger reader and a deployment
// manifest. The metrics registerer may be nil to skip metrics registration.
func NewService(log *logger.Logger, reader ledger.Reader, manifest *Manifest, cfg *ServiceConfig, reg prometheus.Registerer) (*Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}

	assembler, err := NewAssembler(manifest)
	if err != nil {
		return nil, fmt.Errorf("create assembler: %w", err)
	}

	km := keys.NewManager()
	amounts, err := cipher.New[uint64](km, reader, cipher.AmountCodec{}, cfg.Cipher)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
	}

	return &Service{
		WrappedLogger: logger.NewWrappedLogger(log),
		keys:          km,
		amounts:       amounts,
		assembler:     assembler,
		monitor:       NewMonitor(log, reader, cfg.Monitor, metrics),
		manifest:      manifest,
		reader:        reader,
		metrics:       metrics,
		cfg:           cfg,
	}, nil
}

// Keys exposes the session key manager (nonce sync, public key export).
func (s *Service) Keys() *keys.Manager { return s.keys }

// Monitor exposes the lifecycle monitor (events, manual waits).
func (s *Service) Monitor() *Monitor { return s.monitor }

// Assembler exposes the request assembler for callers that manage their own
// ciphertexts.
func (s *Service) Assembler() *Assembler { return s.assembler }

// InitializeSession seeds the session for a wallet: the user's ledger
// identity plus a 32-byte seed for the encryption keypair. Waits for the
// cluster to be ready before returning, since no encryption is possible
// without the cluster key.
func (s *Service) InitializeSession(ctx context.Context, user ledger.Address, seed []byte) error {
	if err := s.keys.InitializeFromSeed(seed); err != nil {
		return err
	}
	s.user = user

	if err := s.monitor.WaitClusterReady(ctx, s.cfg.ReadinessBudget); err != nil {
		return err
	}

	// Resynchronize the nonce with the ledger-persisted value, if the user
	// already has a position.
	return s.SyncNonce(ctx)
}

// InitializeSessionFromSignature seeds the session from a wallet signature:
// the signature digest becomes the seed, so re-signing the same message
// reproduces the same keypair with no stored secret.
func (s *Service) InitializeSessionFromSignature(ctx context.Context, user ledger.Address, signature []byte) error {
	if err := s.keys.InitializeFromSignature(signature); err != nil {
		return err
	}
	s.user = user

	if err := s.monitor.WaitClusterReady(ctx, s.cfg.ReadinessBudget); err != nil {
		return err
	}
	return s.SyncNonce(ctx)
}

// ObligationAddress returns the session user's position record address.
func (s *Service) ObligationAddress() ledger.Address {
	return ObligationAddress(s.manifest.ProgramID, s.user, s.manifest.Pool)
}

// SyncNonce overwrites the local nonce counter with the state nonce
// persisted in the user's obligation record. A missing record (no position
// yet) resets the counter to zero. Drift between the two values makes
// decryption silently wrong, so callers should sync after any externally
// observed state change.
func (s *Service) SyncNonce(ctx context.Context) error {
	record, err := s.reader.Obligation(ctx, s.ObligationAddress())
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			s.keys.SetNonce(keys.Nonce{})
			return nil
		}
		return fmt.Errorf("sync nonce: %w", err)
	}

	s.keys.SetNonce(record.StateNonce)
	return nil
}

func (s *Service) requireSession() error {
	if !s.keys.Initialized() || s.user.IsZero() {
		return ErrSessionNotInitialized
	}
	return nil
}

// encryptAmount produces the fixed-size ciphertext for a confidential
// operation. The nonce is allocated atomically, so the reported value is
// exactly the one the ciphertext was produced under even when operations
// overlap. A failed encryption skips its allocated nonce; SyncNonce realigns
// the counter with the ledger afterwards.
func (s *Service) encryptAmount(ctx context.Context, amount uint64) (Ciphertext, keys.Nonce, error) {
	used := s.keys.AllocateNonce()
	blob, err := s.amounts.Encrypt(ctx, amount, &used)
	if err != nil {
		return Ciphertext{}, used, err
	}
	ct, err := CiphertextFromBytes(blob)
	return ct, used, err
}

// DecryptAmount decrypts a 32-byte amount ciphertext under the given nonce
// (nil for the current counter).
func (s *Service) DecryptAmount(ctx context.Context, ct Ciphertext, nonce *keys.Nonce) (uint64, error) {
	return s.amounts.Decrypt(ctx, ct[:], nonce)
}

func (s *Service) countSubmission(op Operation) {
	if s.metrics != nil {
		s.metrics.SubmissionsAssembled.WithLabelValues(string(op)).Inc()
	}
}

// Deposit assembles a collateral deposit for the session user.
func (s *Service) Deposit(ctx context.Context, amount uint64) (*Submission, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	userPub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	sub, err := s.assembler.Deposit(s.user, amount, userPub, s.keys.CurrentNonce())
	if err != nil {
		return nil, err
	}
	s.countSubmission(OpDeposit)
	return sub, nil
}

// Fund moves tokens into the collateral vault ahead of a confidential
// deposit: the visible half of the two-phase deposit flow. The transfer
// is a plain token movement and queues no computation.
func (s *Service) Fund(ctx context.Context, amount uint64) (*Submission, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}

	sub, err := s.assembler.Fund(s.user, amount)
	if err != nil {
		return nil, err
	}
	s.countSubmission(OpFund)
	return sub, nil
}

// Borrow encrypts the amount and assembles a confidential borrow.
func (s *Service) Borrow(ctx context.Context, amount uint64) (*Submission, error) {
	return s.confidentialOp(ctx, OpBorrow, amount, s.assembler.Borrow)
}

// Withdraw encrypts the amount and assembles a confidential withdrawal.
func (s *Service) Withdraw(ctx context.Context, amount uint64) (*Submission, error) {
	return s.confidentialOp(ctx, OpWithdraw, amount, s.assembler.Withdraw)
}

// Repay encrypts the amount and assembles a confidential repayment.
func (s *Service) Repay(ctx context.Context, amount uint64) (*Submission, error) {
	return s.confidentialOp(ctx, OpRepay, amount, s.assembler.Repay)
}

// Spend encrypts the amount and assembles a confidential spend.
func (s *Service) Spend(ctx context.Context, amount uint64) (*Submission, error) {
	return s.confidentialOp(ctx, OpSpend, amount, s.assembler.Spend)
}

type confidentialBuilder func(user ledger.Address, amount Ciphertext, userPublicKey [32]byte, nonce keys.Nonce) (*Submission, error)

func (s *Service) confidentialOp(ctx context.Context, op Operation, amount uint64, build confidentialBuilder) (*Submission, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	userPub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	ct, usedNonce, err := s.encryptAmount(ctx, amount)
	if err != nil {
		return nil, err
	}

	sub, err := build(s.user, ct, userPub, usedNonce)
	if err != nil {
		return nil, err
	}
	s.countSubmission(op)
	return sub, nil
}

// Liquidate assembles a liquidation attempt against the target user.
func (s *Service) Liquidate(ctx context.Context, target ledger.Address, repayAmount uint64) (*Submission, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	userPub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	sub, err := s.assembler.Liquidate(s.user, target, repayAmount, userPub, s.keys.CurrentNonce())
	if err != nil {
		return nil, err
	}
	s.countSubmission(OpLiquidate)
	return sub, nil
}

// SubmitAndAwait hands the submission to the external signing layer, then
// polls until the targeted obligation's state nonce advances past its
// pre-submission value or the finalization budget expires.
func (s *Service) SubmitAndAwait(ctx context.Context, sub *Submission, submitter Submitter) error {
	obligation := sub.Accounts.Obligation

	pre := keys.Nonce{}
	if record, err := s.reader.Obligation(ctx, obligation); err == nil {
		pre = record.StateNonce
	} else if !errors.Is(err, ledger.ErrRecordNotFound) {
		return fmt.Errorf("read pre-submission state: %w", err)
	}

	if err := submitter.Submit(ctx, sub); err != nil {
		return fmt.Errorf("submit %s: %w", sub.Operation, err)
	}

	if err := s.monitor.AwaitFinalization(ctx, obligation, pre); err != nil {
		return err
	}

	// The cluster bumped the ledger nonce; follow it locally.
	return s.SyncNonce(ctx)
}

// Close zeroizes the session key material.
func (s *Service) Close() {
	s.keys.Zeroize()
	s.LogInfo("session closed, key material zeroized")
}
