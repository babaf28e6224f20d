package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisis/govledger/pkg/contracts"
)

func TestPostgresStore_ApplyCreateDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO decisions").
		WithArgs("d1", "tenant-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM ledger_events`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
	mock.ExpectExec("INSERT INTO ledger_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.Apply(context.Background(), Change{
		Decision: &contracts.Decision{DecisionID: "d1", OwnerRef: strPtr("tenant-1")},
		Events: []contracts.LedgerEvent{{
			EventID: "e1", DecisionID: "d1", Type: contracts.EventDecisionInitiated,
			Payload: contracts.DecisionInitiatedPayload{OwnerRef: strPtr("tenant-1")},
			Actor:   contracts.Actor{ID: "alice"},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyStaleArtifactRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT decision_id FROM decisions").
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT version_id FROM artifacts").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"version_id"}).AddRow("v2"))
	mock.ExpectRollback()

	err = s.Apply(context.Background(), Change{
		Artifact:       &contracts.Artifact{ArtifactID: "a3", DecisionID: "d1", VersionID: "v3"},
		ExpectedLatest: strPtr("v1"), // stale: another writer appended v2
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}
