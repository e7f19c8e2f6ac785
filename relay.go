package bookledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookledger/bookledger/pkg/logger"
)

// NotificationBuffer is how many notifications are held for one subscriber
// before further ones are dropped for it.
const NotificationBuffer = 64

// RelayState is the subscription state of the Relay.
type RelayState int

const (
	RelayUnsubscribed RelayState = iota
	RelaySubscribed
)

func (s RelayState) String() string {
	if s == RelaySubscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Notification is a user-visible message about a ledger or wallet event.
type Notification struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Message  string       `json:"message"`
	Event    *LedgerEvent `json:"event,omitempty"`
	External bool         `json:"external"`
	Time     time.Time    `json:"time"`
}

// RelayCallbacks connect relay events to the session lifecycle.
type RelayCallbacks struct {
	AccountsChanged func(accounts []string)
	NetworkChanged  func(chainID *big.Int)
	Closed          func()
	// Reconcile runs after ledger events caused by other parties.
	Reconcile func(ctx context.Context)
}

// Relay turns provider and ledger events into notifications.
// Ledger events whose transaction this process submitted are only announced;
// any other ledger event also schedules a reconciliation. Scheduled
// reconciliations are coalesced and run on one goroutine.
type Relay struct {
	txCache *TxCache
	logger  logger.Logger
	metrics Metrics

	subsMu sync.Mutex
	subs   map[*notifySub]struct{}

	mu       sync.Mutex
	state    RelayState
	disposer *Disposer
}

// notifySub queues notifications for one receiver. A full queue drops.
type notifySub struct {
	queue chan Notification
}

// NewRelay creates an unsubscribed relay.
func NewRelay(txCache *TxCache, log logger.Logger, metrics Metrics) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Relay{txCache: txCache, logger: log, metrics: metrics, subs: make(map[*notifySub]struct{})}
}

// State returns the subscription state.
func (r *Relay) State() RelayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Notifications delivers notifications to ch until the subscription is closed.
// Each subscriber has its own queue of NotificationBuffer entries; when a
// receiver falls that far behind, newer notifications are dropped for it
// and the relay never waits.
func (r *Relay) Notifications(ch chan<- Notification) event.Subscription {
	ns := &notifySub{queue: make(chan Notification, NotificationBuffer)}
	r.subsMu.Lock()
	r.subs[ns] = struct{}{}
	r.subsMu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer func() {
			r.subsMu.Lock()
			delete(r.subs, ns)
			r.subsMu.Unlock()
		}()
		for {
			select {
			case <-quit:
				return nil
			case n := <-ns.queue:
				select {
				case ch <- n:
				case <-quit:
					return nil
				}
			}
		}
	})
}

// Subscribe registers provider handlers and ledger watchers for sess.
// A previous subscription is disposed first.
func (r *Relay) Subscribe(ctx context.Context, sess *Session, cb RelayCallbacks) error {
	if sess == nil || !sess.Connected {
		return ErrNotConnected
	}
	r.Unsubscribe()

	d := NewDisposer()

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	refreshCh := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-refreshCh:
				if cb.Reconcile != nil {
					cb.Reconcile(watchCtx)
				}
			}
		}
	}()
	d.Add(func() {
		cancel()
		wg.Wait()
	})

	if src, ok := sess.Provider.(ProviderEventSource); ok {
		r.subscribeProvider(d, src, cb)
	} else {
		r.logger.Debug("provider does not emit wallet events")
	}

	sink := r.ledgerSink(refreshCh)
	if sub, err := sess.Library.WatchBookEvents(watchCtx, sink); err != nil {
		r.logger.Warn("library events unavailable", zap.Error(err))
	} else {
		r.watch(d, sub, "library")
	}
	if sess.Token != nil {
		if sub, err := sess.Token.WatchTransfersTo(watchCtx, sess.Library.Address(), sink); err != nil {
			r.logger.Warn("token transfer events unavailable", zap.Error(err))
		} else {
			r.watch(d, sub, "token")
		}
	}

	r.mu.Lock()
	r.disposer = d
	r.state = RelaySubscribed
	r.mu.Unlock()
	return nil
}

// Unsubscribe disposes every registration. It is a no-op when unsubscribed.
func (r *Relay) Unsubscribe() {
	r.mu.Lock()
	d := r.disposer
	r.disposer = nil
	r.state = RelayUnsubscribed
	r.mu.Unlock()

	if d != nil {
		d.Dispose()
	}
}

func (r *Relay) subscribeProvider(d *Disposer, src ProviderEventSource, cb RelayCallbacks) {
	d.Add(src.On(ProviderAccountsChanged, func(ev ProviderEvent) {
		r.metrics.IncProviderEvent(ev.Kind)
		msg := "Wallet locked"
		if len(ev.Accounts) > 0 {
			msg = fmt.Sprintf("Account changed to %s", ev.Accounts[0])
		}
		r.notify(Notification{Kind: string(ev.Kind), Message: msg})
		if cb.AccountsChanged != nil {
			cb.AccountsChanged(ev.Accounts)
		}
	}))
	d.Add(src.On(ProviderNetworkChanged, func(ev ProviderEvent) {
		r.metrics.IncProviderEvent(ev.Kind)
		r.notify(Notification{Kind: string(ev.Kind), Message: fmt.Sprintf("Network changed to %v", ev.ChainID)})
		if cb.NetworkChanged != nil {
			cb.NetworkChanged(ev.ChainID)
		}
	}))
	d.Add(src.On(ProviderClose, func(ev ProviderEvent) {
		r.metrics.IncProviderEvent(ev.Kind)
		r.notify(Notification{Kind: string(ev.Kind), Message: "Wallet session closed"})
		if cb.Closed != nil {
			cb.Closed()
		}
	}))
	d.Add(src.On(ProviderError, func(ev ProviderEvent) {
		r.metrics.IncProviderEvent(ev.Kind)
		r.logger.Warn("provider error", zap.Error(ev.Err))
	}))
}

func (r *Relay) watch(d *Disposer, sub Subscription, source string) {
	d.AddSubscription(sub)
	go func() {
		if err, ok := <-sub.Err(); ok && err != nil {
			r.logger.Warn("event subscription dropped", zap.String("source", source), zap.Error(err))
		}
	}()
}

func (r *Relay) ledgerSink(refreshCh chan<- struct{}) func(LedgerEvent) {
	return func(ev LedgerEvent) {
		external := !r.txCache.Contains(ev.TxHash)
		r.metrics.IncLedgerEvent(ev.Kind, external)

		evCopy := ev
		r.notify(Notification{
			Kind:     string(ev.Kind),
			Message:  describeEvent(ev),
			Event:    &evCopy,
			External: external,
		})

		if external {
			select {
			case refreshCh <- struct{}{}:
			default:
			}
		}
	}
}

func (r *Relay) notify(n Notification) {
	n.ID = uuid.NewString()
	n.Time = time.Now()
	r.logger.Info("notification", zap.String("kind", n.Kind), zap.String("message", n.Message))

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ns := range r.subs {
		select {
		case ns.queue <- n:
		default:
			r.logger.Warn("notification dropped for slow subscriber", zap.String("id", n.ID), zap.String("kind", n.Kind))
		}
	}
}

func describeEvent(ev LedgerEvent) string {
	switch ev.Kind {
	case EventBookAdded:
		return fmt.Sprintf("Book %q added with %d copies", ev.Name, ev.Copies)
	case EventBookBorrowed:
		return fmt.Sprintf("Book %s borrowed by %s", ev.BookID, ev.Account)
	case EventBookReturned:
		return fmt.Sprintf("Book %s returned by %s", ev.BookID, ev.Account)
	case EventTokenTransfer:
		return fmt.Sprintf("Library received %v tokens from %s", ev.Amount, ev.Account)
	default:
		return string(ev.Kind)
	}
}
