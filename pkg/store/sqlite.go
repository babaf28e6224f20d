package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decisis/govledger/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the ledger in SQLite. Append-only is enforced at
// the storage layer too: BEFORE UPDATE / BEFORE DELETE triggers abort
// any mutation of the decision, artifact, event and evidence tables, so
// the guarantee holds even for callers that bypass this package.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	owner_ref   TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id           TEXT PRIMARY KEY,
	decision_id           TEXT NOT NULL,
	version_id            TEXT NOT NULL UNIQUE,
	supersedes_version_id TEXT,
	canonical_hash        TEXT NOT NULL,
	canonical_json        TEXT NOT NULL,
	created_by_id         TEXT NOT NULL,
	created_by_role       TEXT,
	created_at            TEXT NOT NULL,
	seq                   INTEGER NOT NULL,
	UNIQUE (decision_id, seq)
);

CREATE TABLE IF NOT EXISTS ledger_events (
	event_id               TEXT PRIMARY KEY,
	decision_id            TEXT NOT NULL,
	event_type             TEXT NOT NULL,
	version_id             TEXT,
	payload                TEXT NOT NULL DEFAULT '{}',
	reason_code            TEXT,
	actor_id               TEXT NOT NULL,
	actor_role             TEXT,
	changed_fields_summary TEXT,
	created_at             TEXT NOT NULL,
	seq                    INTEGER NOT NULL,
	UNIQUE (decision_id, seq)
);

CREATE TABLE IF NOT EXISTS evidence_links (
	link_id     TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	ref         TEXT NOT NULL,
	added_by_id TEXT NOT NULL,
	added_by_role TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_events (
	event_id    TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	task_key    TEXT,
	event_type  TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	actor_id    TEXT NOT NULL,
	actor_role  TEXT,
	created_at  TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	UNIQUE (decision_id, seq)
);
`

// appendOnlyTables get mutation-rejecting triggers.
var appendOnlyTables = []string{
	"decisions", "artifacts", "ledger_events", "evidence_links", "execution_events",
}

// NewSQLiteStore opens the schema and installs the append-only triggers.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	for _, table := range appendOnlyTables {
		trigger := fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS %[1]s_no_update BEFORE UPDATE ON %[1]s
BEGIN SELECT RAISE(ABORT, 'append-only: %[1]s'); END;
CREATE TRIGGER IF NOT EXISTS %[1]s_no_delete BEFORE DELETE ON %[1]s
BEGIN SELECT RAISE(ABORT, 'append-only: %[1]s'); END;
`, table)
		if _, err := s.db.ExecContext(ctx, trigger); err != nil {
			return fmt.Errorf("install append-only trigger on %s: %w", table, err)
		}
	}
	return nil
}

// mapMutationErr converts a trigger abort into ErrImmutable.
func mapMutationErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "append-only:") {
		return fmt.Errorf("%w: %v", ErrImmutable, err)
	}
	return err
}

func (s *SQLiteStore) Apply(ctx context.Context, change Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if change.Decision != nil {
		d := change.Decision
		createdAt := now
		if !d.CreatedAt.IsZero() {
			createdAt = d.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO decisions (decision_id, owner_ref, created_at) VALUES (?, ?, ?)`,
			d.DecisionID, nullable(d.OwnerRef), createdAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert decision: %w", err)
		}
	}

	if change.Artifact != nil {
		if err := s.insertArtifactTx(ctx, tx, change.Artifact, change.ExpectedLatest, now); err != nil {
			return err
		}
	}

	for _, ev := range change.Events {
		if err := s.appendEventTx(ctx, tx, ev, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) insertArtifactTx(ctx context.Context, tx *sql.Tx, a *contracts.Artifact, expectedLatest *string, now string) error {
	var latest sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT version_id FROM artifacts WHERE decision_id = ? ORDER BY seq DESC LIMIT 1`,
		a.DecisionID,
	).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read latest artifact: %w", err)
	}

	// Compare-and-swap on the observed latest: a mismatch means another
	// writer appended in between, and committing would fork the chain.
	switch {
	case !latest.Valid && expectedLatest != nil:
		return ErrConcurrentModification
	case latest.Valid && (expectedLatest == nil || *expectedLatest != latest.String):
		return ErrConcurrentModification
	}

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM artifacts WHERE decision_id = ?`,
		a.DecisionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next artifact seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (
			artifact_id, decision_id, version_id, supersedes_version_id,
			canonical_hash, canonical_json, created_by_id, created_by_role,
			created_at, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.DecisionID, a.VersionID, nullable(a.SupersedesVersionID),
		a.CanonicalHash, a.CanonicalJSON, a.CreatedBy.ID, a.CreatedBy.Role,
		now, seq,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", mapMutationErr(err))
	}
	return nil
}

func (s *SQLiteStore) appendEventTx(ctx context.Context, tx *sql.Tx, ev contracts.LedgerEvent, now string) error {
	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_events WHERE decision_id = ?`,
		ev.DecisionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}

	payload, err := contracts.MarshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events (
			event_id, decision_id, event_type, version_id, payload,
			reason_code, actor_id, actor_role, changed_fields_summary,
			created_at, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.DecisionID, string(ev.Type), nullable(ev.VersionID), string(payload),
		ev.ReasonCode, ev.Actor.ID, ev.Actor.Role, nullable(ev.ChangedFieldsSummary),
		now, seq,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", mapMutationErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetDecision(ctx context.Context, decisionID string) (contracts.Decision, error) {
	var (
		d        contracts.Decision
		ownerRef sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_id, owner_ref, created_at FROM decisions WHERE decision_id = ?`,
		decisionID,
	).Scan(&d.DecisionID, &ownerRef, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Decision{}, ErrNotFound
		}
		return contracts.Decision{}, err
	}
	if ownerRef.Valid {
		d.OwnerRef = &ownerRef.String
	}
	d.CreatedAt = parseTime(created)
	return d, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, decisionID string) ([]contracts.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, decision_id, event_type, version_id, payload,
		       reason_code, actor_id, actor_role, changed_fields_summary,
		       created_at, seq
		FROM ledger_events
		WHERE decision_id = ?
		ORDER BY seq ASC`,
		decisionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]contracts.LedgerEvent, 0)
	for rows.Next() {
		var (
			ev        contracts.LedgerEvent
			eventType string
			versionID sql.NullString
			payload   string
			reason    sql.NullString
			role      sql.NullString
			changed   sql.NullString
			created   string
		)
		if err := rows.Scan(&ev.EventID, &ev.DecisionID, &eventType, &versionID, &payload,
			&reason, &ev.Actor.ID, &role, &changed, &created, &ev.Seq); err != nil {
			return nil, err
		}
		ev.Type = contracts.EventType(eventType)
		if versionID.Valid {
			ev.VersionID = &versionID.String
		}
		if reason.Valid {
			ev.ReasonCode = reason.String
		}
		ev.Actor.Role = role.String
		if changed.Valid {
			ev.ChangedFieldsSummary = &changed.String
		}
		ev.CreatedAt = parseTime(created)
		p, err := contracts.UnmarshalPayload(ev.Type, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", ev.EventID, err)
		}
		ev.Payload = p
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) LatestArtifact(ctx context.Context, decisionID string) (contracts.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, decision_id, version_id, supersedes_version_id,
		       canonical_hash, canonical_json, created_by_id, created_by_role,
		       created_at, seq
		FROM artifacts
		WHERE decision_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		decisionID,
	)
	a, err := scanArtifact(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Artifact{}, ErrNotFound
		}
		return contracts.Artifact{}, err
	}
	return a, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, decisionID string) ([]contracts.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, decision_id, version_id, supersedes_version_id,
		       canonical_hash, canonical_json, created_by_id, created_by_role,
		       created_at, seq
		FROM artifacts
		WHERE decision_id = ?
		ORDER BY seq ASC`,
		decisionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]contracts.Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func scanArtifact(scan func(dest ...any) error) (contracts.Artifact, error) {
	var (
		a          contracts.Artifact
		supersedes sql.NullString
		role       sql.NullString
		created    string
	)
	err := scan(&a.ArtifactID, &a.DecisionID, &a.VersionID, &supersedes,
		&a.CanonicalHash, &a.CanonicalJSON, &a.CreatedBy.ID, &role,
		&created, &a.Seq)
	if err != nil {
		return contracts.Artifact{}, err
	}
	if supersedes.Valid {
		a.SupersedesVersionID = &supersedes.String
	}
	a.CreatedBy.Role = role.String
	a.CreatedAt = parseTime(created)
	return a, nil
}

func (s *SQLiteStore) InsertEvidence(ctx context.Context, link contracts.EvidenceLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_links (link_id, decision_id, kind, ref, added_by_id, added_by_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.LinkID, link.DecisionID, link.Kind, link.Ref,
		link.AddedBy.ID, link.AddedBy.Role, createdAt.Format(time.RFC3339Nano),
	)
	return mapMutationErr(err)
}

func (s *SQLiteStore) CountEvidence(ctx context.Context, decisionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_links WHERE decision_id = ?`, decisionID,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link_id, decision_id, kind, ref, added_by_id, added_by_role, created_at
		FROM evidence_links
		WHERE decision_id = ?
		ORDER BY created_at ASC`,
		decisionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	links := make([]contracts.EvidenceLink, 0)
	for rows.Next() {
		var (
			l       contracts.EvidenceLink
			role    sql.NullString
			created string
		)
		if err := rows.Scan(&l.LinkID, &l.DecisionID, &l.Kind, &l.Ref,
			&l.AddedBy.ID, &role, &created); err != nil {
			return nil, err
		}
		l.AddedBy.Role = role.String
		l.CreatedAt = parseTime(created)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) AppendExecutionEvent(ctx context.Context, event contracts.ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_events WHERE decision_id = ?`,
		event.DecisionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next execution seq: %w", err)
	}

	payload, err := contracts.MarshalExecutionPayload(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal execution payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_events (event_id, decision_id, task_key, event_type, payload, actor_id, actor_role, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.DecisionID, event.TaskKey, string(event.Type), string(payload),
		event.Actor.ID, event.Actor.Role, time.Now().UTC().Format(time.RFC3339Nano), seq,
	)
	if err != nil {
		return fmt.Errorf("append execution event: %w", mapMutationErr(err))
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListExecutionEvents(ctx context.Context, decisionID string) ([]contracts.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, decision_id, task_key, event_type, payload, actor_id, actor_role, created_at, seq
		FROM execution_events
		WHERE decision_id = ?
		ORDER BY seq ASC`,
		decisionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]contracts.ExecutionEvent, 0)
	for rows.Next() {
		var (
			ev        contracts.ExecutionEvent
			taskKey   sql.NullString
			eventType string
			payload   string
			role      sql.NullString
			created   string
		)
		if err := rows.Scan(&ev.EventID, &ev.DecisionID, &taskKey, &eventType, &payload,
			&ev.Actor.ID, &role, &created, &ev.Seq); err != nil {
			return nil, err
		}
		ev.TaskKey = taskKey.String
		ev.Type = contracts.ExecutionEventType(eventType)
		ev.Actor.Role = role.String
		ev.CreatedAt = parseTime(created)
		p, err := contracts.UnmarshalExecutionPayload(ev.Type, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode execution payload for event %s: %w", ev.EventID, err)
		}
		ev.Payload = p
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

var _ Store = (*SQLiteStore)(nil)
