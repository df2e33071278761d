package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS cluster_state_ledger (
	leader_term INTEGER NOT NULL,
	sequence_number INTEGER NOT NULL,
	choice TEXT NOT NULL,
	record BLOB NOT NULL,
	appended_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (leader_term, sequence_number)
);

CREATE TRIGGER IF NOT EXISTS trg_csl_no_update
BEFORE UPDATE ON cluster_state_ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_csl_no_delete
BEFORE DELETE ON cluster_state_ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only: DELETE forbidden');
END;
`

// SQLite is the durable on-disk ledger backend.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSQLite(baseDir string) (*SQLite, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir base dir: %w", err)
	}
	path := filepath.Join(baseDir, "cluster-state-ledger.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, msg *ctrlmsg.ClusterMessage, lsn ctrlmsg.LeaderMessageSequence) error {
	payload, err := ctrlmsg.Marshal(msg)
	if err != nil {
		appendFailures.WithLabelValues("sqlite").Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		appendFailures.WithLabelValues("sqlite").Inc()
		return err
	}
	defer tx.Rollback()

	var last ctrlmsg.LeaderMessageSequence
	haveAny := true
	row := tx.QueryRowContext(ctx, `
SELECT leader_term, sequence_number
FROM cluster_state_ledger
ORDER BY leader_term DESC, sequence_number DESC
LIMIT 1`)
	if err := row.Scan(&last.LeaderTerm, &last.SequenceNumber); err != nil {
		if err != sql.ErrNoRows {
			appendFailures.WithLabelValues("sqlite").Inc()
			return err
		}
		haveAny = false
	}
	if err := checkNextLSN(last, haveAny, lsn); err != nil {
		appendFailures.WithLabelValues("sqlite").Inc()
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO cluster_state_ledger(leader_term, sequence_number, choice, record, appended_at_utc_ns)
VALUES(?, ?, ?, ?, ?)`,
		lsn.LeaderTerm, lsn.SequenceNumber, msg.Choice(), payload, time.Now().UTC().UnixNano())
	if err != nil {
		appendFailures.WithLabelValues("sqlite").Inc()
		return err
	}
	if err := tx.Commit(); err != nil {
		appendFailures.WithLabelValues("sqlite").Inc()
		return err
	}
	appendsTotal.WithLabelValues("sqlite").Inc()
	return nil
}

func (s *SQLite) Iterate(ctx context.Context) (Iterator, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT leader_term, sequence_number, record
FROM cluster_state_ledger
ORDER BY leader_term ASC, sequence_number ASC`)
	if err != nil {
		return nil, err
	}
	return &sqliteIterator{rows: rows}, nil
}

func (s *SQLite) Sync(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL);")
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

type sqliteIterator struct {
	rows    *sql.Rows
	lsn     ctrlmsg.LeaderMessageSequence
	payload []byte
	err     error
}

func (it *sqliteIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	if err := it.rows.Scan(&it.lsn.LeaderTerm, &it.lsn.SequenceNumber, &it.payload); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *sqliteIterator) Record() (*ctrlmsg.ClusterMessage, error) {
	return ctrlmsg.UnmarshalClusterMessage(it.payload)
}

func (it *sqliteIterator) LSN() ctrlmsg.LeaderMessageSequence { return it.lsn }

func (it *sqliteIterator) Err() error { return it.err }

func (it *sqliteIterator) Close() error { return it.rows.Close() }
