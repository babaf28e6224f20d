package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/decisis/govledger/pkg/contracts"

	"github.com/lib/pq"
)

// PostgresStore persists the ledger in Postgres. The append-only guard
// is a trigger function raising an exception on UPDATE or DELETE against
// any ledger table; the artifact compare-and-swap is serialized by a row
// lock on the owning decision.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	owner_ref   TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id           TEXT PRIMARY KEY,
	decision_id           TEXT NOT NULL REFERENCES decisions(decision_id),
	version_id            TEXT NOT NULL UNIQUE,
	supersedes_version_id TEXT,
	canonical_hash        TEXT NOT NULL,
	canonical_json        TEXT NOT NULL,
	created_by_id         TEXT NOT NULL,
	created_by_role       TEXT,
	created_at            TIMESTAMPTZ NOT NULL,
	seq                   BIGINT NOT NULL,
	UNIQUE (decision_id, seq)
);

CREATE TABLE IF NOT EXISTS ledger_events (
	event_id               TEXT PRIMARY KEY,
	decision_id            TEXT NOT NULL REFERENCES decisions(decision_id),
	event_type             TEXT NOT NULL,
	version_id             TEXT,
	payload                JSONB NOT NULL DEFAULT '{}',
	reason_code            TEXT,
	actor_id               TEXT NOT NULL,
	actor_role             TEXT,
	changed_fields_summary TEXT,
	created_at             TIMESTAMPTZ NOT NULL,
	seq                    BIGINT NOT NULL,
	UNIQUE (decision_id, seq)
);

CREATE TABLE IF NOT EXISTS evidence_links (
	link_id       TEXT PRIMARY KEY,
	decision_id   TEXT NOT NULL,
	kind          TEXT NOT NULL,
	ref           TEXT NOT NULL,
	added_by_id   TEXT NOT NULL,
	added_by_role TEXT,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_events (
	event_id    TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	task_key    TEXT,
	event_type  TEXT NOT NULL,
	payload     JSONB NOT NULL DEFAULT '{}',
	actor_id    TEXT NOT NULL,
	actor_role  TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	seq         BIGINT NOT NULL,
	UNIQUE (decision_id, seq)
);

CREATE OR REPLACE FUNCTION reject_ledger_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'append-only: % rows are immutable', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;
`

// NewPostgresStore creates the schema and installs the append-only
// triggers.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	for _, table := range appendOnlyTables {
		trigger := fmt.Sprintf(`
DROP TRIGGER IF EXISTS %[1]s_append_only ON %[1]s;
CREATE TRIGGER %[1]s_append_only
BEFORE UPDATE OR DELETE ON %[1]s
FOR EACH ROW EXECUTE FUNCTION reject_ledger_mutation();
`, table)
		if _, err := s.db.ExecContext(ctx, trigger); err != nil {
			return fmt.Errorf("install append-only trigger on %s: %w", table, err)
		}
	}
	return nil
}

func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
	}
	if strings.Contains(err.Error(), "append-only:") {
		return fmt.Errorf("%w: %v", ErrImmutable, err)
	}
	return err
}

func (s *PostgresStore) Apply(ctx context.Context, change Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	if change.Decision != nil {
		d := change.Decision
		createdAt := now
		if !d.CreatedAt.IsZero() {
			createdAt = d.CreatedAt.UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO decisions (decision_id, owner_ref, created_at) VALUES ($1, $2, $3)`,
			d.DecisionID, nullable(d.OwnerRef), createdAt,
		)
		if err != nil {
			return mapPQError(err)
		}
	} else {
		// Serialize writers on the decision so the compare-and-swap and
		// sequence assignment below are race-free.
		decisionID := changeDecisionID(change)
		if decisionID != "" {
			if _, err := tx.ExecContext(ctx,
				`SELECT decision_id FROM decisions WHERE decision_id = $1 FOR UPDATE`,
				decisionID,
			); err != nil {
				return fmt.Errorf("lock decision: %w", err)
			}
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

func changeDecisionID(change Change) string {
	if change.Artifact != nil {
		return change.Artifact.DecisionID
	}
	if len(change.Events) > 0 {
		return change.Events[0].DecisionID
	}
	return ""
}

func (s *PostgresStore) insertArtifactTx(ctx context.Context, tx *sql.Tx, a *contracts.Artifact, expectedLatest *string, now time.Time) error {
	var latest sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT version_id FROM artifacts WHERE decision_id = $1 ORDER BY seq DESC LIMIT 1`,
		a.DecisionID,
	).Scan(&latest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read latest artifact: %w", err)
	}

	switch {
	case !latest.Valid && expectedLatest != nil:
		return ErrConcurrentModification
	case latest.Valid && (expectedLatest == nil || *expectedLatest != latest.String):
		return ErrConcurrentModification
	}

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM artifacts WHERE decision_id = $1`,
		a.DecisionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next artifact seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (
			artifact_id, decision_id, version_id, supersedes_version_id,
			canonical_hash, canonical_json, created_by_id, created_by_role,
			created_at, seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ArtifactID, a.DecisionID, a.VersionID, nullable(a.SupersedesVersionID),
		a.CanonicalHash, a.CanonicalJSON, a.CreatedBy.ID, a.CreatedBy.Role,
		now, seq,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", mapPQError(err))
	}
	return nil
}

func (s *PostgresStore) appendEventTx(ctx context.Context, tx *sql.Tx, ev contracts.LedgerEvent, now time.Time) error {
	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_events WHERE decision_id = $1`,
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.EventID, ev.DecisionID, string(ev.Type), nullable(ev.VersionID), string(payload),
		ev.ReasonCode, ev.Actor.ID, ev.Actor.Role, nullable(ev.ChangedFieldsSummary),
		now, seq,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", mapPQError(err))
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (contracts.Decision, error) {
	var (
		d        contracts.Decision
		ownerRef sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_id, owner_ref, created_at FROM decisions WHERE decision_id = $1`,
		decisionID,
	).Scan(&d.DecisionID, &ownerRef, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Decision{}, ErrNotFound
		}
		return contracts.Decision{}, err
	}
	if ownerRef.Valid {
		d.OwnerRef = &ownerRef.String
	}
	return d, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, decisionID string) ([]contracts.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, decision_id, event_type, version_id, payload,
		       reason_code, actor_id, actor_role, changed_fields_summary,
		       created_at, seq
		FROM ledger_events
		WHERE decision_id = $1
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
			payload   []byte
			reason    sql.NullString
			role      sql.NullString
			changed   sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.DecisionID, &eventType, &versionID, &payload,
			&reason, &ev.Actor.ID, &role, &changed, &ev.CreatedAt, &ev.Seq); err != nil {
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
		p, err := contracts.UnmarshalPayload(ev.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", ev.EventID, err)
		}
		ev.Payload = p
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) LatestArtifact(ctx context.Context, decisionID string) (contracts.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, decision_id, version_id, supersedes_version_id,
		       canonical_hash, canonical_json, created_by_id, created_by_role,
		       created_at, seq
		FROM artifacts
		WHERE decision_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		decisionID,
	)
	a, err := scanPGArtifact(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Artifact{}, ErrNotFound
		}
		return contracts.Artifact{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, decisionID string) ([]contracts.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, decision_id, version_id, supersedes_version_id,
		       canonical_hash, canonical_json, created_by_id, created_by_role,
		       created_at, seq
		FROM artifacts
		WHERE decision_id = $1
		ORDER BY seq ASC`,
		decisionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]contracts.Artifact, 0)
	for rows.Next() {
		a, err := scanPGArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func scanPGArtifact(scan func(dest ...any) error) (contracts.Artifact, error) {
	var (
		a          contracts.Artifact
		supersedes sql.NullString
		role       sql.NullString
	)
	err := scan(&a.ArtifactID, &a.DecisionID, &a.VersionID, &supersedes,
		&a.CanonicalHash, &a.CanonicalJSON, &a.CreatedBy.ID, &role,
		&a.CreatedAt, &a.Seq)
	if err != nil {
		return contracts.Artifact{}, err
	}
	if supersedes.Valid {
		a.SupersedesVersionID = &supersedes.String
	}
	a.CreatedBy.Role = role.String
	return a, nil
}

func (s *PostgresStore) InsertEvidence(ctx context.Context, link contracts.EvidenceLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_links (link_id, decision_id, kind, ref, added_by_id, added_by_role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.LinkID, link.DecisionID, link.Kind, link.Ref,
		link.AddedBy.ID, link.AddedBy.Role, createdAt,
	)
	return mapPQError(err)
}

func (s *PostgresStore) CountEvidence(ctx context.Context, decisionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_links WHERE decision_id = $1`, decisionID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListEvidence(ctx context.Context, decisionID string) ([]contracts.EvidenceLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link_id, decision_id, kind, ref, added_by_id, added_by_role, created_at
		FROM evidence_links
		WHERE decision_id = $1
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
			l    contracts.EvidenceLink
			role sql.NullString
		)
		if err := rows.Scan(&l.LinkID, &l.DecisionID, &l.Kind, &l.Ref,
			&l.AddedBy.ID, &role, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.AddedBy.Role = role.String
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *PostgresStore) AppendExecutionEvent(ctx context.Context, event contracts.ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM execution_events WHERE decision_id = $1`,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.EventID, event.DecisionID, event.TaskKey, string(event.Type), string(payload),
		event.Actor.ID, event.Actor.Role, time.Now().UTC(), seq,
	)
	if err != nil {
		return fmt.Errorf("append execution event: %w", mapPQError(err))
	}
	return tx.Commit()
}

func (s *PostgresStore) ListExecutionEvents(ctx context.Context, decisionID string) ([]contracts.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, decision_id, task_key, event_type, payload, actor_id, actor_role, created_at, seq
		FROM execution_events
		WHERE decision_id = $1
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
			payload   []byte
			role      sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.DecisionID, &taskKey, &eventType, &payload,
			&ev.Actor.ID, &role, &ev.CreatedAt, &ev.Seq); err != nil {
			return nil, err
		}
		ev.TaskKey = taskKey.String
		ev.Type = contracts.ExecutionEventType(eventType)
		ev.Actor.Role = role.String
		p, err := contracts.UnmarshalExecutionPayload(ev.Type, payload)
		if err != nil {
			return nil, fmt.Errorf("decode execution payload for event %s: %w", ev.EventID, err)
		}
		ev.Payload = p
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
