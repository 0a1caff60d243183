package ingestion

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageQuery(t *testing.T) {
	assert.Equal(t,
		`SELECT created_at, meeting_id, summary FROM "meetingsummaries" WHERE confirmed = true AND created_at > $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		pageQuery("meetingsummaries"))
	assert.Contains(t, pageQuery(`odd"name`), `"odd""name"`)
}

func TestPostgresSourceFetchPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	src := NewPostgresSourceFromDB(db, "", 100, nil)
	created := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	cursor := Cursor{After: created.Add(-time.Hour)}

	mock.ExpectQuery(regexp.QuoteMeta(pageQuery(DefaultTable))).
		WithArgs(cursor.Time(), 100, 300).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "meeting_id", "summary"}).
			AddRow(created, "m1", []byte(`{"meetingInfo":{"date":"2024-01-10"}}`)).
			AddRow(created.Add(time.Minute), "m2", []byte(`{"meetingInfo":{"date":"2024-02-15"}}`)))

	recs, err := src.FetchPage(context.Background(), cursor, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].MeetingID)
	assert.Equal(t, created, recs[0].CreatedAt)
	date, ok := recs[1].Summary.Lookup("meetingInfo", "date")
	require.True(t, ok)
	s, _ := date.AsString()
	assert.Equal(t, "2024-02-15", s)

	mock.ExpectClose()
	require.NoError(t, src.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSourceRejectsBadRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := NewPostgresSourceFromDB(db, "", 100, nil)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "meeting_id", "summary"}).
			AddRow(time.Now(), "m1", []byte(`["not","an","object"]`)))

	_, err = src.FetchPage(context.Background(), Cursor{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedRecord))

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "meeting_id", "summary"}).
			AddRow(time.Now(), nil, []byte(`{}`)))
	_, err = src.FetchPage(context.Background(), Cursor{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no meeting_id")
}

func TestPostgresSourceQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := NewPostgresSourceFromDB(db, "", 100, nil)

	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)
	_, err = src.FetchPage(context.Background(), Cursor{}, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
