package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open returns a migrated Store for driver: "sqlite" (dsn is a file path),
// "postgres" (dsn is a connection string) or "memory".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "sqlite":
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, dsn, nil)
	case "memory":
		st = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
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
