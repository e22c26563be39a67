package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// Session is a single pooled connection held for the duration of one
// operation.
type Session struct {
	conn      *sqlx.Conn
	db        *DB
	closeOnce sync.Once
	closeErr  error
}

// Rebind converts '?' placeholders to the driver's bindvar style.
func (s *Session) Rebind(query string) string {
	return s.db.Rebind(query)
}

// GetContext executes a query that returns a single row
func (s *Session) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := s.db.metrics.NewTimer(s.db.metrics.DBQueryDuration.WithLabelValues(queryType))
	defer s.observe(ctx, queryType, query, timer)

	err := s.conn.GetContext(ctx, dest, s.Rebind(query), args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) && !isContextError(err) {
		s.db.metrics.RecordDBError("get_error")
		s.db.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
		}, err)
	}

	return err
}

// SelectContext executes a query that returns multiple rows
func (s *Session) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := s.db.metrics.NewTimer(s.db.metrics.DBQueryDuration.WithLabelValues(queryType))
	defer s.observe(ctx, queryType, query, timer)

	err := s.conn.SelectContext(ctx, dest, s.Rebind(query), args...)
	if err != nil {
		if isContextError(err) {
			return err
		}
		s.db.metrics.RecordDBError("select_error")
		s.db.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	return nil
}

func (s *Session) observe(ctx context.Context, queryType, query string, timer *metrics.Timer) {
	duration := timer.ObserveDuration()

	s.db.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
		"query_type":  queryType,
		"duration_ms": duration.Milliseconds(),
		"query":       query,
	})
}

// Close returns the connection to the pool. It is safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.db.metrics.SessionsOpen.Dec()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
