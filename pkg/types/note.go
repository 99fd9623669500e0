// Package types defines the client-held note and the public pool events.
// A note is the only spending credential for a deposit; losing it is
// unrecoverable by design.
package types

import "math/big"

// NoteStatus represents the lifecycle state of a note
type NoteStatus uint8

const (
	// NoteStatusCreated indicates secrets are generated but the commitment
	// has not been submitted to the pool
	NoteStatusCreated NoteStatus = 0

	// NoteStatusDeposited indicates the commitment is in the accumulator
	// and the leaf index is known
	NoteStatusDeposited NoteStatus = 1

	// NoteStatusProofReady indicates a withdrawal proof has been generated
	// but not yet submitted
	NoteStatusProofReady NoteStatus = 2

	// NoteStatusSpent indicates the nullifier has been accepted; terminal
	NoteStatusSpent NoteStatus = 3

	// NoteStatusRejected indicates the last withdrawal attempt failed.
	// The deposit itself is still live; a fresh proof may be attempted.
	NoteStatusRejected NoteStatus = 4
)

// String returns the human-readable status name
func (s NoteStatus) String() string {
	switch s {
	case NoteStatusCreated:
		return "created"
	case NoteStatusDeposited:
		return "deposited"
	case NoteStatusProofReady:
		return "proof-ready"
	case NoteStatusSpent:
		return "spent"
	case NoteStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Note is the private, client-held spending credential for one deposit.
// Nullifier and Secret must be uniformly sampled field elements and never
// reused across notes. No component other than the owning client ever sees
// them in the clear.
type Note struct {
	// Value is the note denomination in base units; always equal to
	// FixedDepositAmount for an accepted deposit
	Value uint64

	// Label tags the deposit with a compliance category, checked against
	// the association set at withdrawal
	Label *big.Int

	// Nullifier is the random field element whose hash authorizes the spend
	Nullifier *big.Int

	// Secret is the random field element blinding the commitment
	Secret *big.Int
}

// DepositEvent is emitted by the pool for every accepted deposit.
// Clients rebuild their accumulator mirrors from the ordered event stream.
type DepositEvent struct {
	// Commitment is the inserted leaf
	Commitment Hash

	// LeafIndex is the insertion-order index of the leaf
	LeafIndex uint32

	// Depositor is the funding address
	Depositor Address
}

// WithdrawEvent is emitted by the pool for every accepted withdrawal
type WithdrawEvent struct {
	// NullifierHash is the now-spent nullifier hash
	NullifierHash Hash

	// Recipient is the payout address
	Recipient Address

	// Value is the amount paid out in base units
	Value uint64
}
