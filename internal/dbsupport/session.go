// Package dbsupport implements the per-request-scope database session
// helper: a reference-counted transaction scope shared by nested callers
// within one HTTP request, RPC dispatch, or plugin init call. The
// outermost close commits on success and rolls back on failure; nested
// scopes share the outer transaction via context.Context.
package dbsupport

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"pylon/pkg/logging"
)

type scopeKey struct{}

// Scope is one reference-counted transaction. The outermost Begin call opens
// the transaction; nested Begin calls within the same context just bump the
// reference count and return the same *gorm.DB.
type Scope struct {
	tx   *gorm.DB
	refs int
}

// Begin opens (or joins) a database session scope on ctx. If ctx already
// carries a Scope, it is reused with its reference count incremented;
// otherwise a fresh transaction is started against engine. The returned
// context must be passed to any callee that should share the scope; the
// returned Scope must be closed exactly once per Begin call via Close.
func Begin(ctx context.Context, engine *gorm.DB) (context.Context, *Scope) {
	if sc, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		sc.refs++
		return ctx, sc
	}
	tx := engine.Begin()
	sc := &Scope{tx: tx, refs: 1}
	return context.WithValue(ctx, scopeKey{}, sc), sc
}

// DB returns the active transaction for ctx, or nil if no scope is open.
func DB(ctx context.Context) *gorm.DB {
	if sc, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return sc.tx
	}
	return nil
}

// Close releases one reference to the scope. Once the reference count
// reaches zero the underlying transaction is committed (if closeErr is nil)
// or rolled back (otherwise), then the connection is returned to the pool.
// Tolerant of commit/rollback failures: they are logged, never panicked.
func (s *Scope) Close(closeErr error) {
	s.refs--
	if s.refs > 0 {
		return
	}
	var err error
	if closeErr == nil {
		err = s.tx.Commit().Error
	} else {
		err = s.tx.Rollback().Error
	}
	if err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		logging.Error("DBSupport", err, "failed to finalize session scope")
	}
}
