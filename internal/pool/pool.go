package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opaque/core/internal/association"
	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/vault"
	"github.com/opaque/core/internal/zkproof"
	"github.com/opaque/core/pkg/types"
)

// Pool processing errors
var (
	ErrStateRootMismatch   = errors.New("state root mismatch")
	ErrAssociationMismatch = errors.New("association root mismatch")
	ErrPoolFull            = errors.New("pool commitment tree is full")
)

// Verifier checks withdrawal proofs against their public signals
type Verifier interface {
	Verify(proof *zkproof.Proof, signals *zkproof.PublicSignals) error
}

// Pool is the privacy pool state machine. It owns the commitment tree, the
// nullifier set, the association gate, the vault, and the proof verifier.
// All mutations run under a single writer lock so every withdrawal observes
// a consistent (root, nullifier set, balance) snapshot.
type Pool struct {
	mu sync.Mutex

	tree         *merkle.Tree
	associations *association.Set
	nullifiers   *NullifierSet
	vault        *vault.Vault
	verifier     Verifier

	fixedAmount uint64
}

// Config holds pool construction parameters
type Config struct {
	// FixedAmount is the only accepted deposit denomination in base units
	FixedAmount uint64
}

// DefaultConfig returns the standard pool configuration
func DefaultConfig() *Config {
	return &Config{FixedAmount: types.FixedDepositAmount}
}

// New creates a pool over its collaborators
func New(tree *merkle.Tree, associations *association.Set, nullifiers *NullifierSet, v *vault.Vault, verifier Verifier, cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pool{
		tree:         tree,
		associations: associations,
		nullifiers:   nullifiers,
		vault:        v,
		verifier:     verifier,
		fixedAmount:  cfg.FixedAmount,
	}
}

// FixedAmount returns the deposit denomination
func (p *Pool) FixedAmount() uint64 {
	return p.fixedAmount
}

// Deposit collects the fixed amount from the depositor and appends the
// commitment to the state tree, returning the deposit event. Funds are
// collected before the commitment exists; a failed insert refunds them.
func (p *Pool) Deposit(ctx context.Context, from types.Address, commitment types.Hash) (*types.DepositEvent, error) {
	if !commitment.InField() {
		return nil, types.ErrInvalidFieldElement
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tree.Size() >= uint64(1)<<p.tree.Depth() {
		return nil, ErrPoolFull
	}

	if err := p.vault.Credit(ctx, p.fixedAmount); err != nil {
		return nil, err
	}
	leafIndex, err := p.tree.Insert(ctx, commitment)
	if err != nil {
		if refundErr := p.vault.Debit(ctx, p.fixedAmount); refundErr != nil {
			return nil, fmt.Errorf("insert failed (%v) and refund failed: %w", err, refundErr)
		}
		return nil, err
	}

	return &types.DepositEvent{
		Commitment: commitment,
		LeafIndex:  uint32(leafIndex),
		Depositor:  from,
	}, nil
}

// Withdraw validates a withdrawal against the current pool state and, if
// every check passes, consumes the nullifier and releases funds.
//
// Checks run cheapest-first and every failure leaves the pool untouched:
// decode, nullifier freshness, state root, association root, payout amount,
// vault balance, then the proof itself. The association gate is never bypassed; an
// unconfigured root rejects all withdrawals. The nullifier is burned before
// funds move, so a store failure between the two writes can strand a note
// but never pays twice.
func (p *Pool) Withdraw(ctx context.Context, recipient types.Address, proofBytes, signalsBytes []byte) (*types.WithdrawEvent, error) {
	signals, err := zkproof.DecodeSignals(signalsBytes)
	if err != nil {
		return nil, err
	}
	proof, err := zkproof.DecodeProof(proofBytes)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	spent, err := p.nullifiers.IsSpent(ctx, signals.NullifierHash)
	if err != nil {
		return nil, err
	}
	if spent {
		return nil, ErrNullifierAlreadyUsed
	}

	root, err := p.tree.Root(ctx)
	if err != nil {
		return nil, err
	}
	if signals.StateRoot != root {
		return nil, ErrStateRootMismatch
	}

	associationRoot, err := p.associations.Root()
	if err != nil {
		return nil, err
	}
	if signals.AssociationRoot != associationRoot {
		return nil, ErrAssociationMismatch
	}

	amount, err := signals.WithdrawnAmount()
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, vault.ErrZeroAmount
	}
	if !p.vault.CanCover(amount) {
		return nil, vault.ErrInsufficientBalance
	}

	if err := p.verifier.Verify(proof, signals); err != nil {
		return nil, err
	}

	record := &SpentRecord{
		NullifierHash: signals.NullifierHash,
		Recipient:     recipient,
		Value:         amount,
	}
	if err := p.nullifiers.MarkSpent(ctx, record); err != nil {
		return nil, err
	}
	if err := p.vault.Debit(ctx, amount); err != nil {
		return nil, fmt.Errorf("nullifier consumed but payout failed: %w", err)
	}

	return &types.WithdrawEvent{
		NullifierHash: signals.NullifierHash,
		Recipient:     recipient,
		Value:         amount,
	}, nil
}

// SetAssociationRoot publishes a new association root. Authority gating is
// enforced by the association set.
func (p *Pool) SetAssociationRoot(ctx context.Context, caller types.Address, root types.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.associations.SetRoot(ctx, caller, root)
}

// Root returns the current state tree root
func (p *Pool) Root(ctx context.Context) (types.Hash, error) {
	return p.tree.Root(ctx)
}

// Depth returns the state tree depth
func (p *Pool) Depth() int {
	return p.tree.Depth()
}

// Size returns the number of deposited commitments
func (p *Pool) Size() uint64 {
	return p.tree.Size()
}

// Commitments returns all deposited commitments in leaf order
func (p *Pool) Commitments(ctx context.Context) ([]types.Hash, error) {
	return p.tree.Leaves(ctx)
}

// CommitmentPath returns the inclusion path for a deposited commitment
func (p *Pool) CommitmentPath(ctx context.Context, leafIndex uint64) (*merkle.Path, error) {
	return p.tree.Path(ctx, leafIndex)
}

// Nullifiers returns all consumed nullifier hashes
func (p *Pool) Nullifiers(ctx context.Context) ([]types.Hash, error) {
	return p.nullifiers.List(ctx)
}

// AssociationRoot returns the published association root
func (p *Pool) AssociationRoot() (types.Hash, error) {
	return p.associations.Root()
}

// Balance returns the vault's custodied balance
func (p *Pool) Balance() uint64 {
	return p.vault.Balance()
}
