package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grazing-cli/internal/store"
)

// initStore opens and migrates the configured ledger. It returns nil when
// the ledger is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	if !cfg.Store.Enabled() {
		return nil, nil
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// requireStore is initStore for commands that only make sense with a ledger.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no run ledger configured (store.driver is none)")
	}
	return st, nil
}
