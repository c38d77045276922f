package store

import (
	"database/sql"
	"errors"
	"time"
)

// Connection is a journaled client connection.
type Connection struct {
	ID         string
	RemoteAddr string
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// Open reports whether the connection has not been closed.
func (c *Connection) Open() bool {
	return c.ClosedAt == nil
}

// ConnectionRepository records connection lifetimes.
type ConnectionRepository struct {
	db *sql.DB
}

// Connections returns the connection repository for this store.
func (s *Store) Connections() *ConnectionRepository {
	return &ConnectionRepository{db: s.db}
}

// Opened records a new connection.
func (r *ConnectionRepository) Opened(id, remoteAddr string, at time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO connections (id, remote_addr, opened_at) VALUES (?, ?, ?)`,
		id, remoteAddr, at.UTC(),
	)
	return err
}

// Closed marks a connection as closed. Returns ErrNotFound if id is unknown
// or already closed.
func (r *ConnectionRepository) Closed(id string, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE connections SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseDangling closes every connection left open by a previous run and
// returns how many were updated.
func (r *ConnectionRepository) CloseDangling(at time.Time) (int64, error) {
	result, err := r.db.Exec(
		`UPDATE connections SET closed_at = ? WHERE closed_at IS NULL`,
		at.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetByID retrieves a connection by its ID.
func (r *ConnectionRepository) GetByID(id string) (*Connection, error) {
	row := r.db.QueryRow(
		`SELECT id, remote_addr, opened_at, closed_at FROM connections WHERE id = ?`,
		id,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Recent returns up to limit connections, newest first.
func (r *ConnectionRepository) Recent(limit int) ([]*Connection, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		`SELECT id, remote_addr, opened_at, closed_at FROM connections
		 ORDER BY opened_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*Connection, error) {
	c := &Connection{}
	var closed sql.NullTime
	if err := s.Scan(&c.ID, &c.RemoteAddr, &c.OpenedAt, &closed); err != nil {
		return nil, err
	}
	if closed.Valid {
		t := closed.Time
		c.ClosedAt = &t
	}
	return c, nil
}
