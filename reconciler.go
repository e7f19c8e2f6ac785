package bookledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookledger/bookledger/ledger/evm"
	"github.com/bookledger/bookledger/pkg/logger"
)

// Reconciler rebuilds the inventory views from a full ledger scan.
// Every scan builds fresh lists and publishes them in one transition;
// a failed scan publishes nothing but the error.
type Reconciler struct {
	store   *Store
	logger  logger.Logger
	metrics Metrics
}

// NewReconciler creates a reconciler publishing into store.
func NewReconciler(store *Store, log logger.Logger, metrics Metrics) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reconciler{store: store, logger: log, metrics: metrics}
}

type scanResult struct {
	all       []Book
	available []Book
	rented    []Book
}

// scan reads every book in insertion order. Per book it reads the id, the
// record and the borrowed flag for the session address.
func (r *Reconciler) scan(ctx context.Context, sess *Session) (scanResult, error) {
	if sess == nil || !sess.Connected || sess.Library == nil {
		return scanResult{}, ErrNotConnected
	}
	lib := sess.Library

	count, err := lib.BooksLength(ctx)
	if err != nil {
		return scanResult{}, fmt.Errorf("failed to read book count: %w", err)
	}

	res := scanResult{
		all:       make([]Book, 0, count),
		available: make([]Book, 0, count),
		rented:    make([]Book, 0),
	}
	for i := uint64(0); i < count; i++ {
		id, err := lib.BookIDAt(ctx, i)
		if err != nil {
			return scanResult{}, fmt.Errorf("failed to read book id %d: %w", i, err)
		}
		name, copies, err := lib.Book(ctx, id)
		if err != nil {
			return scanResult{}, fmt.Errorf("failed to read book %s: %w", id, err)
		}
		borrowed, err := lib.IsBorrowedBy(ctx, sess.Address, id)
		if err != nil {
			return scanResult{}, fmt.Errorf("failed to read borrowed flag for %s: %w", id, err)
		}

		book := Book{
			ID:       id,
			Name:     name,
			Copies:   copies,
			Rentable: !borrowed && copies > 0,
		}
		res.all = append(res.all, book)
		if book.Rentable {
			res.available = append(res.available, book)
		}
		if borrowed {
			res.rented = append(res.rented, book)
		}
	}
	return res, nil
}

func (r *Reconciler) fail(sess *Session, start time.Time, err error) error {
	r.metrics.ObserveReconcile(time.Since(start).Seconds(), 0, err)
	r.logger.Warn("library scan failed", zap.Error(err))

	classified := WrapError(ErrCodeReconcileFailed, "Failed to read the library", err, nil)
	if sess != nil {
		r.store.Apply(forSession(sess.ID, reconcileFailed(classified.Error())))
	}
	return classified
}

// RefreshAvailable rebuilds the list of books the session account can rent.
func (r *Reconciler) RefreshAvailable(ctx context.Context, sess *Session) ([]Book, error) {
	start := time.Now()
	res, err := r.scan(ctx, sess)
	if err != nil {
		return nil, r.fail(sess, start, err)
	}
	r.store.Apply(forSession(sess.ID, availableScanned(res.all, res.available)))
	r.metrics.ObserveReconcile(time.Since(start).Seconds(), len(res.all), nil)
	return res.available, nil
}

// RefreshRented rebuilds the list of books the session account holds.
func (r *Reconciler) RefreshRented(ctx context.Context, sess *Session) ([]Book, error) {
	start := time.Now()
	res, err := r.scan(ctx, sess)
	if err != nil {
		return nil, r.fail(sess, start, err)
	}
	r.store.Apply(forSession(sess.ID, rentedScanned(res.rented)))
	r.metrics.ObserveReconcile(time.Since(start).Seconds(), len(res.all), nil)
	return res.rented, nil
}

// Refresh rebuilds every view and the admin flag from one scan.
func (r *Reconciler) Refresh(ctx context.Context, sess *Session) (Inventory, error) {
	start := time.Now()
	res, err := r.scan(ctx, sess)
	if err != nil {
		return Inventory{}, r.fail(sess, start, err)
	}

	isAdmin := false
	owner, err := sess.Library.Owner(ctx)
	if err != nil {
		r.logger.Warn("failed to read library owner", zap.Error(err))
	} else {
		isAdmin = evm.SameAddress(owner, sess.Address)
	}

	inv := Inventory{All: res.all, Available: res.available, Rented: res.rented}
	r.store.Apply(forSession(sess.ID, inventoryScanned(inv, isAdmin)))
	r.metrics.ObserveReconcile(time.Since(start).Seconds(), len(res.all), nil)
	r.logger.Debug("library scanned",
		zap.Int("books", len(res.all)),
		zap.Int("available", len(res.available)),
		zap.Int("rented", len(res.rented)),
		zap.Bool("admin", isAdmin))
	return inv, nil
}
