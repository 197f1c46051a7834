package storage

import (
	"database/sql"
	"fmt"
)

// GetLastLine returns the number of lines already processed for a file,
// or 0 if the file has never been seen.
func (s *Store) GetLastLine(fileName string) (int, error) {
	var line int
	err := s.db.QueryRow(
		"SELECT last_line FROM conversation_file_state WHERE file_name = ?", fileName,
	).Scan(&line)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading file state for %s: %w", fileName, err)
	}
	return line, nil
}

// SetLastLine records the number of lines processed for a file. The write is
// committed before return; it is the restart-recovery anchor for tailing.
func (s *Store) SetLastLine(fileName string, line int) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_file_state (file_name, last_line, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(file_name) DO UPDATE SET
			last_line = excluded.last_line,
			updated_at = CURRENT_TIMESTAMP`,
		fileName, line,
	)
	if err != nil {
		return fmt.Errorf("writing file state for %s: %w", fileName, err)
	}
	return nil
}

// TrackedFileCount returns the number of files with recorded processing state.
func (s *Store) TrackedFileCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversation_file_state").Scan(&n)
	return n, err
}
