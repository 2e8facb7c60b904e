package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestUpsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithPool(mock, "scraped_data", fixedClock{t: now})
	require.NoError(t, err)

	rec := crawler.Record{
		StationID: 42,
		Geography: crawler.Geography{
			DepartmentName:   "Francisco_Morazan",
			MunicipalityName: "Distrito Central",
			CenterName:       "Escuela X",
		},
		Audit:      crawler.Audit{Status: crawler.AuditPublished},
		Stats:      crawler.Statistics{ValidVotes: 120},
		Candidates: []crawler.CandidateResult{},
	}

	mock.ExpectExec("INSERT INTO scraped_data").
		WithArgs(
			int64(42),
			"Francisco_Morazan",
			"Distrito Central",
			"Escuela X",
			"Publicada",
			int64(120),
			pgxmock.AnyArg(),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(8)).
		WillReturnError(errors.New("connection reset"))

	exists, err := store.Exists(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.Exists(context.Background(), 8)
	require.ErrorContains(t, err, "check station 8")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndUpsertErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "stations", nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO stations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	require.NoError(t, store.EnsureSchema(context.Background()))
	err = store.Upsert(context.Background(), crawler.Record{StationID: 3})
	require.ErrorContains(t, err, "upsert station 3")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name;", nil)
	require.ErrorContains(t, err, "invalid table name")
}
