package hostlib

import (
	"context"
	"database/sql"
	stderrors "errors"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memview"
	"github.com/wippyai/wasm-bridge/object"
)

// Store keeps byte blobs by key in a SQLite database.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenStore opens or creates the database at path. ":memory:" keeps the
// blobs in memory.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "open storage")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "set busy timeout")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		id   TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "create blobs table")
	}
	return &Store{db: db, log: Logger().Named("storage")}, nil
}

// Save stores data under key, replacing any previous value.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, key, data)
	if err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "save "+key)
	}
	s.log.Debug("saved", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Load returns the blob under key and whether it exists.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE id = ?", key).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "load "+key)
	}
	return data, true, nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", key)
	if err != nil {
		return false, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "delete "+key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "delete "+key)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lib exposes save, load and delete. save takes (ptr, len, key) through
// call_raw, or (bytes, key) through call_handles; the bytes are copied
// before save returns. Every operation returns a pending operation: load
// settles with the bytes or null, delete with 1 or 0.
func (s *Store) Lib() Lib {
	rec := object.NewRecord("storage").
		Set("save", object.Func(s.save)).
		Set("load", object.Func(func(_ context.Context, call object.Call) (object.Object, error) {
			key, err := arg[object.Text](call, 0)
			if err != nil {
				return nil, err
			}
			return object.NewPending("storage load", func(ctx context.Context) (object.Object, error) {
				data, ok, err := s.Load(ctx, string(key))
				if err != nil || !ok {
					return nil, err
				}
				return object.Bytes(data), nil
			}), nil
		})).
		Set("delete", object.Func(func(_ context.Context, call object.Call) (object.Object, error) {
			key, err := arg[object.Text](call, 0)
			if err != nil {
				return nil, err
			}
			return object.NewPending("storage delete", func(ctx context.Context) (object.Object, error) {
				ok, err := s.Delete(ctx, string(key))
				if err != nil {
					return nil, err
				}
				if ok {
					return object.Numeric(1), nil
				}
				return object.Numeric(0), nil
			}), nil
		}))
	return Lib{Name: "storage", Object: rec}
}

func (s *Store) save(_ context.Context, call object.Call) (object.Object, error) {
	var (
		data []byte
		key  object.Text
		err  error
	)
	if b, ok := first(call).(object.Bytes); ok {
		data = append([]byte(nil), b...)
		key, err = arg[object.Text](call, 1)
	} else {
		if len(call.Raw) < 3 || call.Memory == nil {
			return nil, errors.InvalidInput(errors.PhaseHost, "save wants (ptr, len, key)")
		}
		var view []byte
		if view, err = memview.Bytes(call.Memory, call.Raw[0], call.Raw[1]); err != nil {
			return nil, err
		}
		data = append([]byte(nil), view...)
		key, err = arg[object.Text](call, 2)
	}
	if err != nil {
		return nil, err
	}
	return object.NewPending("storage save", func(ctx context.Context) (object.Object, error) {
		return nil, s.Save(ctx, string(key), data)
	}), nil
}

func first(call object.Call) object.Object {
	if len(call.Args) == 0 {
		return nil
	}
	return call.Args[0]
}
