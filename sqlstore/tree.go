package sqlstore

import (
	"database/sql"

	"github.com/zeebo/errs"
	"github.com/zeebo/mon"

	"github.com/securesecrets/lbcore"
)

// SaveTree replaces the stored words of pair with those of t.
func (s *Store) SaveTree(pair string, t *lbcore.Tree) (err error) {
	defer mon.Start().Stop(&err)

	snap := t.Snapshot()
	return withTx(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM tree_words WHERE pair = ?`, pair); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`INSERT INTO tree_words (pair, level, key, word) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		if _, err := stmt.Exec(pair, 0, 0, snap.Level0[:]); err != nil {
			return err
		}
		for key, w := range snap.Level1 {
			if _, err := stmt.Exec(pair, 1, key, w[:]); err != nil {
				return err
			}
		}
		for key, w := range snap.Level2 {
			if _, err := stmt.Exec(pair, 2, key, w[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTree reads the tree of pair. A pair with no stored tree is empty.
func (s *Store) LoadTree(pair string) (_ *lbcore.Tree, err error) {
	defer mon.Start().Stop(&err)

	rows, err := s.db.Query(`SELECT level, key, word FROM tree_words WHERE pair = ?`, pair)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	snap := lbcore.TreeSnapshot{
		Level1: make(map[uint8][32]byte),
		Level2: make(map[uint16][32]byte),
	}
	for rows.Next() {
		var (
			level, key int
			data       []byte
			w          [32]byte
		)
		if err := rows.Scan(&level, &key, &data); err != nil {
			return nil, Error.Wrap(err)
		}
		if len(data) != len(w) {
			return nil, Error.New("pair %q level %d key %d: word is %d bytes", pair, level, key, len(data))
		}
		copy(w[:], data)

		switch {
		case level == 0 && key == 0:
			snap.Level0 = w
		case level == 1 && key >= 0 && key <= 0xff:
			snap.Level1[uint8(key)] = w
		case level == 2 && key >= 0 && key <= 0xffff:
			snap.Level2[uint16(key)] = w
		default:
			return nil, Error.New("pair %q: bad word at level %d key %d", pair, level, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	return lbcore.RestoreTree(snap)
}
