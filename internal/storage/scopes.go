package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AddSyncScope registers a standing upload rule. scopeType is "all" or
// "session"; sessionID is required for session scopes and must be empty for
// all scopes.
func (s *Store) AddSyncScope(scopeType, sessionID string) (SyncScope, error) {
	switch scopeType {
	case ScopeAll:
		if sessionID != "" {
			return SyncScope{}, fmt.Errorf("scope type %q does not take a session id", scopeType)
		}
	case ScopeSession:
		if sessionID == "" {
			return SyncScope{}, fmt.Errorf("scope type %q requires a session id", scopeType)
		}
	default:
		return SyncScope{}, fmt.Errorf("unknown scope type %q", scopeType)
	}

	sc := SyncScope{
		ID:        uuid.New().String(),
		ScopeType: scopeType,
		SessionID: sessionID,
		Active:    true,
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_scopes (id, scope_type, session_id)
		VALUES (?, ?, ?)`,
		sc.ID, sc.ScopeType, nullIfEmpty(sc.SessionID),
	)
	if err != nil {
		return SyncScope{}, fmt.Errorf("adding sync scope: %w", err)
	}
	return sc, nil
}

// GetActiveSyncScopes returns all active scopes, oldest first.
func (s *Store) GetActiveSyncScopes() ([]SyncScope, error) {
	rows, err := s.db.Query(`
		SELECT id, scope_type, COALESCE(session_id, ''), active, created_at, last_synced_at
		FROM sync_scopes WHERE active = 1
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []SyncScope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// ListSyncScopes returns every scope, active or not, oldest first.
func (s *Store) ListSyncScopes() ([]SyncScope, error) {
	rows, err := s.db.Query(`
		SELECT id, scope_type, COALESCE(session_id, ''), active, created_at, last_synced_at
		FROM sync_scopes
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []SyncScope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func scanScope(rows *sql.Rows) (SyncScope, error) {
	var sc SyncScope
	var active int
	var createdAt string
	var lastSynced sql.NullString
	if err := rows.Scan(&sc.ID, &sc.ScopeType, &sc.SessionID, &active, &createdAt, &lastSynced); err != nil {
		return SyncScope{}, err
	}
	sc.Active = active != 0

	var err error
	if sc.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return SyncScope{}, fmt.Errorf("parsing scope created_at: %w", err)
	}
	if lastSynced.Valid {
		if sc.LastSyncedAt, err = parseDBTime(lastSynced.String); err != nil {
			return SyncScope{}, fmt.Errorf("parsing scope last_synced_at: %w", err)
		}
	}
	return sc, nil
}

// MarkScopeSynced records that a scope made upload progress.
func (s *Store) MarkScopeSynced(id string) error {
	res, err := s.db.Exec(
		"UPDATE sync_scopes SET last_synced_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking scope %s synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSyncScope stops a scope from driving further uploads. Events
// already marked synced stay synced.
func (s *Store) DeactivateSyncScope(id string) error {
	res, err := s.db.Exec("UPDATE sync_scopes SET active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivating scope %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
