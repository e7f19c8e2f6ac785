package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	bookledger "github.com/bookledger/bookledger"
)

// watchLogs subscribes to q and feeds every decodable, non-removed log to sink
// until the subscription is closed, ctx is done or the backend drops it.
func watchLogs(
	ctx context.Context,
	backend Backend,
	q ethereum.FilterQuery,
	decode func(types.Log) (bookledger.LedgerEvent, bool),
	sink func(bookledger.LedgerEvent),
) (bookledger.Subscription, error) {
	logs := make(chan types.Log, 16)
	sub, err := backend.SubscribeLogs(ctx, q, logs)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				if log.Removed {
					continue
				}
				if ev, ok := decode(log); ok {
					sink(ev)
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}), nil
}
