package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/opaque/core/pkg/types"
)

// DepositHandler adapts a typed deposit event callback to a gossip message
// handler. Payloads that fail to decode never reach the callback.
func DepositHandler(fn func(ctx context.Context, event *types.DepositEvent) error) MessageHandler {
	return func(ctx context.Context, msg *pubsub.Message) error {
		event, err := DecodeDepositEvent(msg.GetData())
		if err != nil {
			return err
		}
		return fn(ctx, event)
	}
}

// WithdrawHandler adapts a typed withdrawal event callback to a gossip
// message handler
func WithdrawHandler(fn func(ctx context.Context, event *types.WithdrawEvent) error) MessageHandler {
	return func(ctx context.Context, msg *pubsub.Message) error {
		event, err := DecodeWithdrawEvent(msg.GetData())
		if err != nil {
			return err
		}
		return fn(ctx, event)
	}
}

// AssociationRootHandler adapts a typed association root callback to a
// gossip message handler
func AssociationRootHandler(fn func(ctx context.Context, root types.Hash) error) MessageHandler {
	return func(ctx context.Context, msg *pubsub.Message) error {
		root, err := DecodeAssociationRoot(msg.GetData())
		if err != nil {
			return err
		}
		return fn(ctx, root)
	}
}
