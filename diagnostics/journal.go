// Package diagnostics implements TransferJournal: a tamper-evident,
// WAL-mode SQLite-backed, SHA-256 hash-chained record of register
// transfers, for forensic replay of what a backend actually did when a
// fault is reported.
package diagnostics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// GenesisHash is the prev_hash of the first entry ever appended to a
// Journal.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const ddl = `
CREATE TABLE IF NOT EXISTS transfer_journal (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts         TEXT    NOT NULL,
    path       TEXT    NOT NULL,
    kind       TEXT    NOT NULL,
    version    INTEGER NOT NULL,
    validity   TEXT    NOT NULL,
    detail     TEXT    NOT NULL,
    prev_hash  TEXT    NOT NULL,
    event_hash TEXT    NOT NULL
);
`

// Record is one logical transfer event to append to the journal.
type Record struct {
	Path     string
	Kind     string // "read", "write", "interrupt", etc.
	Version  uint64
	Validity string // "ok" or "faulty"
	Detail   string // free-form diagnostic text, e.g. an error message
}

// entryContent is the subset of fields hashed to produce event_hash; it
// deliberately excludes event_hash itself, mirroring the audit-log
// chaining scheme this package is fused from.
type entryContent struct {
	Seq      int64  `json:"seq"`
	Ts       string `json:"ts"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Version  uint64 `json:"version"`
	Validity string `json:"validity"`
	Detail   string `json:"detail"`
	PrevHash string `json:"prev_hash"`
}

// Journal is a tamper-evident, append-only, WAL-mode SQLite-backed log of
// register transfers. Safe for concurrent use; all Append calls are
// serialized by mu, and a single-connection pool limits SQLite to one
// writer exactly as the source queue does.
type Journal struct {
	mu       sync.Mutex
	db       *sql.DB
	prevHash string
	seq      int64
}

// Open opens (or creates) the journal database at path, enabling WAL
// mode, and restores the hash-chain state from the last row so Append
// continues the chain correctly across restarts. path may be ":memory:"
// for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: apply schema: %w", err)
	}

	j := &Journal{db: db, prevHash: GenesisHash}

	row := db.QueryRow(`SELECT seq, event_hash FROM transfer_journal ORDER BY seq DESC LIMIT 1`)
	var seq int64
	var hash string
	switch err := row.Scan(&seq, &hash); {
	case err == sql.ErrNoRows:
		// Fresh journal: genesis state stands.
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("diagnostics: restore chain state: %w", err)
	default:
		j.seq = seq
		j.prevHash = hash
	}

	return j, nil
}

// Append records rec as the next entry in the chain.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	content := entryContent{
		Seq:      j.seq,
		Ts:       time.Now().UTC().Format(time.RFC3339Nano),
		Path:     rec.Path,
		Kind:     rec.Kind,
		Version:  rec.Version,
		Validity: rec.Validity,
		Detail:   rec.Detail,
		PrevHash: j.prevHash,
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		j.seq--
		return fmt.Errorf("diagnostics: encode entry: %w", err)
	}
	sum := sha256.Sum256(encoded)
	eventHash := hex.EncodeToString(sum[:])

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO transfer_journal (seq, ts, path, kind, version, validity, detail, prev_hash, event_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		content.Seq, content.Ts, content.Path, content.Kind, content.Version, content.Validity, content.Detail, content.PrevHash, eventHash)
	if err != nil {
		j.seq--
		return fmt.Errorf("diagnostics: insert entry: %w", err)
	}

	j.prevHash = eventHash
	return nil
}

// VerifyChain re-derives every entry's event_hash from its stored
// content and reports the first seq at which the chain is broken, or ok
// if the whole journal is internally consistent.
func (j *Journal) VerifyChain(ctx context.Context) (brokenAtSeq int64, ok bool, err error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, ts, path, kind, version, validity, detail, prev_hash, event_hash
		 FROM transfer_journal ORDER BY seq ASC`)
	if err != nil {
		return 0, false, fmt.Errorf("diagnostics: query chain: %w", err)
	}
	defer rows.Close()

	expectedPrev := GenesisHash
	for rows.Next() {
		var c entryContent
		var storedHash string
		if err := rows.Scan(&c.Seq, &c.Ts, &c.Path, &c.Kind, &c.Version, &c.Validity, &c.Detail, &c.PrevHash, &storedHash); err != nil {
			return 0, false, fmt.Errorf("diagnostics: scan row: %w", err)
		}
		if c.PrevHash != expectedPrev {
			return c.Seq, false, nil
		}
		encoded, err := json.Marshal(c)
		if err != nil {
			return 0, false, fmt.Errorf("diagnostics: re-encode entry %d: %w", c.Seq, err)
		}
		sum := sha256.Sum256(encoded)
		recomputed := hex.EncodeToString(sum[:])
		if recomputed != storedHash {
			return c.Seq, false, nil
		}
		expectedPrev = storedHash
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("diagnostics: iterate chain: %w", err)
	}
	return 0, true, nil
}

// Close closes the underlying database handle.
func (j *Journal) Close() error { return j.db.Close() }
