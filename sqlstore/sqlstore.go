// Package sqlstore keeps oracles and occupancy trees of many pairs in a
// SQLite database.
package sqlstore

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	"github.com/zeebo/mon"

	"github.com/securesecrets/lbcore"
)

// Error is the class of errors returned by this package.
var Error = errs.Class("sqlstore")

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	pair TEXT NOT NULL,
	id   INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (pair, id)
);
CREATE TABLE IF NOT EXISTS cursors (
	pair   TEXT PRIMARY KEY,
	active INTEGER NOT NULL,
	size   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tree_words (
	pair  TEXT NOT NULL,
	level INTEGER NOT NULL,
	key   INTEGER NOT NULL,
	word  BLOB NOT NULL,
	PRIMARY KEY (pair, level, key)
);
`

// Store is a database holding the state of many pairs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. The path ":memory:" gives a
// private in-memory database.
func Open(path string) (_ *Store, err error) {
	defer mon.Start().Stop(&err)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// every connection to :memory: is a different database, and sqlite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return Error.Wrap(s.db.Close()) }

// Pairs returns every pair with an oracle or a tree, sorted.
func (s *Store) Pairs() (pairs []string, err error) {
	rows, err := s.db.Query(`
		SELECT pair FROM cursors
		UNION
		SELECT pair FROM tree_words
		ORDER BY pair`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		var pair string
		if err := rows.Scan(&pair); err != nil {
			return nil, Error.Wrap(err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, Error.Wrap(rows.Err())
}

// Oracle returns the oracle store of pair.
func (s *Store) Oracle(pair string) *Oracle {
	return &Oracle{db: s.db, pair: pair}
}

// Oracle is an lbcore.Store over the rows of one pair.
type Oracle struct {
	db   *sql.DB
	pair string
}

var _ lbcore.Store = (*Oracle)(nil)

var commitThunk mon.Thunk

func (o *Oracle) Load(id uint16) (s lbcore.Sample, ok bool, err error) {
	var data []byte
	err = o.db.QueryRow(`SELECT data FROM samples WHERE pair = ? AND id = ?`,
		o.pair, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return lbcore.Sample{}, false, nil
	} else if err != nil {
		return lbcore.Sample{}, false, Error.Wrap(err)
	}

	if err := s.UnmarshalBinary(data); err != nil {
		return lbcore.Sample{}, false, Error.Wrap(err)
	}
	return s, true, nil
}

func (o *Oracle) Cursor() (c lbcore.Cursor, err error) {
	err = o.db.QueryRow(`SELECT active, size FROM cursors WHERE pair = ?`,
		o.pair).Scan(&c.Active, &c.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return lbcore.Cursor{}, nil
	}
	return c, Error.Wrap(err)
}

// Commit writes the sample and the cursor in one transaction.
func (o *Oracle) Commit(id uint16, s lbcore.Sample, c lbcore.Cursor) (err error) {
	timer := commitThunk.Start()
	defer timer.Stop(&err)

	data, err := s.MarshalBinary()
	if err != nil {
		return Error.Wrap(err)
	}

	return withTx(o.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO samples (pair, id, data) VALUES (?, ?, ?)`,
			o.pair, id, data); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO cursors (pair, active, size) VALUES (?, ?, ?)`,
			o.pair, c.Active, c.Size)
		return err
	})
}

func withTx(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return Error.Wrap(err)
	}
	if err := fn(tx); err != nil {
		return Error.Wrap(errs.Combine(err, tx.Rollback()))
	}
	return Error.Wrap(tx.Commit())
}
