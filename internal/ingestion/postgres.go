package ingestion

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/lib/pq"
)

// PostgresSource reads summaries straight from the Postgres database behind
// the row store.
type PostgresSource struct {
	connString string
	table      string
	pageSize   int
	db         *sql.DB
	query      string
	log        logger.Logger
}

// NewPostgresSource returns a source that connects with connString on Open.
func NewPostgresSource(connString, table string, pageSize int, log logger.Logger) *PostgresSource {
	return newPostgresSource(nil, connString, table, pageSize, log)
}

// NewPostgresSourceFromDB wraps an existing handle. Close closes db.
func NewPostgresSourceFromDB(db *sql.DB, table string, pageSize int, log logger.Logger) *PostgresSource {
	return newPostgresSource(db, "", table, pageSize, log)
}

func newPostgresSource(db *sql.DB, connString, table string, pageSize int, log logger.Logger) *PostgresSource {
	if table == "" {
		table = DefaultTable
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &PostgresSource{
		connString: connString,
		table:      table,
		pageSize:   pageSize,
		db:         db,
		query:      pageQuery(table),
		log:        log,
	}
}

// pageQuery selects one page of confirmed rows after a cursor. Arguments are
// the cursor, the limit and the offset.
func pageQuery(table string) string {
	return fmt.Sprintf(
		"SELECT created_at, meeting_id, summary FROM %s WHERE confirmed = true AND created_at > $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3",
		pq.QuoteIdentifier(table),
	)
}

func (s *PostgresSource) Name() string { return "postgres:" + s.table }

func (s *PostgresSource) Open(ctx context.Context) error {
	if s.db == nil {
		db, err := sql.Open("postgres", s.connString)
		if err != nil {
			return errors.Wrap(err, "opening postgres connection")
		}
		s.db = db
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WithCode(err, errors.ErrFetch, "connecting to row store")
	}
	s.log.Debugf("connected to %s", s.Name())
	return nil
}

func (s *PostgresSource) FetchPage(ctx context.Context, cursor Cursor, pageIndex int) ([]SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.query, cursor.Time(), s.pageSize, pageIndex*s.pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "executing page query")
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var (
			r         row
			meetingID sql.NullString
		)
		if err := rows.Scan(&r.CreatedAt, &meetingID, &r.Summary); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		r.MeetingID = meetingID.String
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating rows")
	}
	return out, nil
}

func (s *PostgresSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
