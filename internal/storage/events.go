package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const eventColumns = `id, file_name, line_number, event_data, user_name, inserted_at,
	COALESCE(event_type, ''), COALESCE(event_message, ''), COALESCE(event_session_id, ''),
	COALESCE(git_remote_url, ''), COALESCE(git_commit_hash, ''), synced_at`

func scanEvent(row interface{ Scan(...any) error }) (ConversationEvent, error) {
	var e ConversationEvent
	var insertedAt string
	var syncedAt sql.NullString
	err := row.Scan(&e.ID, &e.FileName, &e.LineNumber, &e.EventData, &e.UserName, &insertedAt,
		&e.EventType, &e.EventMessage, &e.EventSessionID,
		&e.GitRemoteURL, &e.GitCommitHash, &syncedAt)
	if err != nil {
		return ConversationEvent{}, err
	}
	if e.InsertedAt, err = parseDBTime(insertedAt); err != nil {
		return ConversationEvent{}, fmt.Errorf("parsing inserted_at: %w", err)
	}
	if syncedAt.Valid {
		if e.SyncedAt, err = parseDBTime(syncedAt.String); err != nil {
			return ConversationEvent{}, fmt.Errorf("parsing synced_at: %w", err)
		}
	}
	return e, nil
}

// InsertEvent stores a single event. A row with the same (file_name,
// line_number) already present is a no-op: the existing row's id is returned
// with inserted=false. Any other failure is returned as an error.
func (s *Store) InsertEvent(ev NewEvent) (id int64, inserted bool, err error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversation_events
		(file_name, line_number, event_data, user_name, git_remote_url, git_commit_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.FileName, ev.LineNumber, ev.EventData, s.user,
		nullIfEmpty(ev.GitRemoteURL), nullIfEmpty(ev.GitCommitHash),
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting event %s:%d: %w", ev.FileName, ev.LineNumber, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 1 {
		id, err = res.LastInsertId()
		return id, true, err
	}

	// Duplicate: report the existing row's id.
	err = s.db.QueryRow(
		"SELECT id FROM conversation_events WHERE file_name = ? AND line_number = ?",
		ev.FileName, ev.LineNumber,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	return id, false, err
}

// InsertEventsBatch stores events in a single transaction. Duplicate rows are
// silently skipped. A non-duplicate failure on one row does not stop the
// remaining rows; successfully inserted rows commit regardless, and the
// per-row errors are joined into the returned error. The count is the number
// of rows newly persisted.
func (s *Store) InsertEventsBatch(events []NewEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning batch transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO conversation_events
		(file_name, line_number, event_data, user_name, git_remote_url, git_commit_hash)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing batch insert: %w", err)
	}

	var count int
	var rowErrs []error
	for _, ev := range events {
		res, err := stmt.Exec(ev.FileName, ev.LineNumber, ev.EventData, s.user,
			nullIfEmpty(ev.GitRemoteURL), nullIfEmpty(ev.GitCommitHash))
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %s:%d: %w", ev.FileName, ev.LineNumber, err))
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			count++
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return count, errors.Join(rowErrs...)
}

// MarkSynced records the upload time on the given rows. Rows already marked
// keep their original synced_at.
func (s *Store) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.Exec(
		`UPDATE conversation_events SET synced_at = CURRENT_TIMESTAMP
		 WHERE id IN (?`+placeholders+`) AND synced_at IS NULL`, args...)
	if err != nil {
		return fmt.Errorf("marking %d events synced: %w", len(ids), err)
	}
	return nil
}

// GetUnsyncedEvents returns up to limit events with no synced_at, most
// recently inserted first.
func (s *Store) GetUnsyncedEvents(limit int) ([]ConversationEvent, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM conversation_events
		WHERE synced_at IS NULL
		ORDER BY id DESC LIMIT ?`, limit)
}

// GetUnsyncedEventsForSession returns up to limit unsynced events whose
// derived session id matches, most recently inserted first.
func (s *Store) GetUnsyncedEventsForSession(sessionID string, limit int) ([]ConversationEvent, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM conversation_events
		WHERE synced_at IS NULL AND event_session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, limit)
}

// GetSessionEvents returns every event for a session in insertion order.
func (s *Store) GetSessionEvents(sessionID string) ([]ConversationEvent, error) {
	return s.queryEvents(`
		SELECT `+eventColumns+` FROM conversation_events
		WHERE event_session_id = ?
		ORDER BY id ASC`, sessionID)
}

func (s *Store) queryEvents(query string, args ...any) ([]ConversationEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConversationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Search runs a full-text query against the message mirror and returns
// matching events ranked by relevance.
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	rows, err := s.db.Query(`
		SELECT ce.id, ce.file_name, ce.line_number, ce.event_data, ce.user_name, ce.inserted_at,
			COALESCE(ce.event_type, ''), COALESCE(ce.event_message, ''), COALESCE(ce.event_session_id, ''),
			COALESCE(ce.git_remote_url, ''), COALESCE(ce.git_commit_hash, ''), ce.synced_at,
			fts.rank
		FROM messages_fts fts
		JOIN conversation_events ce ON ce.id = fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var e ConversationEvent
		var insertedAt string
		var syncedAt sql.NullString
		var rank float64
		err := rows.Scan(&e.ID, &e.FileName, &e.LineNumber, &e.EventData, &e.UserName, &insertedAt,
			&e.EventType, &e.EventMessage, &e.EventSessionID,
			&e.GitRemoteURL, &e.GitCommitHash, &syncedAt, &rank)
		if err != nil {
			return nil, err
		}
		if e.InsertedAt, err = parseDBTime(insertedAt); err != nil {
			return nil, fmt.Errorf("parsing inserted_at: %w", err)
		}
		if syncedAt.Valid {
			if e.SyncedAt, err = parseDBTime(syncedAt.String); err != nil {
				return nil, fmt.Errorf("parsing synced_at: %w", err)
			}
		}
		results = append(results, SearchResult{Event: e, Rank: rank})
	}
	return results, rows.Err()
}

// GetStatistics returns store-wide counts for the status surface.
func (s *Store) GetStatistics() (Statistics, error) {
	var st Statistics
	if err := s.db.QueryRow("SELECT COUNT(*) FROM conversation_events").Scan(&st.TotalEvents); err != nil {
		return Statistics{}, err
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(DISTINCT event_session_id) FROM conversation_events WHERE event_session_id IS NOT NULL",
	).Scan(&st.TotalSessions); err != nil {
		return Statistics{}, err
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM conversation_events WHERE synced_at IS NULL",
	).Scan(&st.UnsyncedCount); err != nil {
		return Statistics{}, err
	}
	return st, nil
}
