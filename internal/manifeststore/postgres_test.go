package manifeststore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestUpsertStorageTargetIssuesUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO storage_targets`).
		WithArgs(sqlmock.AnyArg(), "local", "", "", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	target, err := store.UpsertStorageTarget(context.Background(), StorageTarget{Kind: "local"})
	require.NoError(t, err)
	assert.NotEmpty(t, target.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStorageTargetReturnsNotFoundOnNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, kind, bucket, prefix, metadata FROM storage_targets`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetStorageTarget(context.Background(), "missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStorageTargetScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, kind, bucket, prefix, metadata FROM storage_targets`).
		WithArgs("st-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "bucket", "prefix", "metadata"}).
			AddRow("st-1", "s3", "bucket", "prefix/", []byte(`{}`)))

	target, err := store.GetStorageTarget(context.Background(), "st-1")
	require.NoError(t, err)
	assert.Equal(t, "s3", target.Kind)
	assert.Equal(t, "bucket", target.Bucket)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDatasetManifestRejectsNonIncreasingVersion(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(version\) FROM manifests WHERE dataset_id = \$1`).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectRollback()

	_, err := store.CreateDatasetManifest(context.Background(), CreateDatasetManifestInput{
		DatasetID: "ds-1", Version: 2, ManifestShard: "shard-0",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDatasetInsertsRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO datasets`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ds, err := store.CreateDataset(context.Background(), CreateDatasetInput{Slug: "events", WriteFormat: WriteFormatDuckDB})
	require.NoError(t, err)
	assert.Equal(t, "events", ds.Slug)
	assert.Equal(t, DatasetActive, ds.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDatasetRejectsEmptySlug(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.CreateDataset(context.Background(), CreateDatasetInput{WriteFormat: WriteFormatDuckDB})
	require.Error(t, err)
}

func TestUpdateDatasetBindsPreMutationUpdatedAt(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	prevUpdated := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at FROM datasets WHERE id = \$1`).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "status", "write_format", "default_storage_target_id", "metadata", "created_at", "updated_at"}).
			AddRow("ds-1", "events", "Events", DatasetActive, WriteFormatDuckDB, nil, []byte(`{}`), created, prevUpdated))

	newName := "Events v2"
	mock.ExpectExec(`UPDATE datasets SET name=\$2, status=\$3, default_storage_target_id=\$4, metadata=\$5, updated_at=\$6 WHERE id=\$1 AND updated_at=\$7`).
		WithArgs("ds-1", newName, DatasetActive, nil, []byte(`{}`), sqlmock.AnyArg(), prevUpdated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := store.UpdateDataset(context.Background(), "ds-1", UpdateDatasetInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, newName, updated.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDatasetReturnsConcurrentUpdateOnZeroRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	prevUpdated := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at FROM datasets WHERE id = \$1`).
		WithArgs("ds-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "status", "write_format", "default_storage_target_id", "metadata", "created_at", "updated_at"}).
			AddRow("ds-1", "events", "Events", DatasetActive, WriteFormatDuckDB, nil, []byte(`{}`), created, prevUpdated))

	newName := "Events v2"
	mock.ExpectExec(`UPDATE datasets SET name=\$2, status=\$3, default_storage_target_id=\$4, metadata=\$5, updated_at=\$6 WHERE id=\$1 AND updated_at=\$7`).
		WithArgs("ds-1", newName, DatasetActive, nil, []byte(`{}`), sqlmock.AnyArg(), prevUpdated).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateDataset(context.Background(), "ds-1", UpdateDatasetInput{Name: &newName})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConcurrentUpdate))
	require.NoError(t, mock.ExpectationsWereMet())
}
