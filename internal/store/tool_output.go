package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
)

// StoreToolOutput stores a gzip-compressed copy of a tool's output stream
// and links it to the tool run. Identical output is kept once and shared by
// every run that produced it. Returns the new row ID, or 0 if identical output
// was already stored.
func (s *Store) StoreToolOutput(toolRunID int64, stream string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress output: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])
	now := s.clock.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO tool_output (tool_run_id, created_at, stream, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, toolRunID, now, stream, buf.Bytes(), hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert tool output: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	var id int64
	if n > 0 {
		if id, err = result.LastInsertId(); err != nil {
			return 0, err
		}
	} else {
		// Shared output lives as long as its newest reference.
		if _, err := tx.Exec(`UPDATE tool_output SET created_at = ? WHERE payload_hash = ?`, now, hashHex); err != nil {
			return 0, fmt.Errorf("touch tool output: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE tool_runs SET output_hash = ? WHERE id = ?`, hashHex, toolRunID); err != nil {
		return 0, fmt.Errorf("link tool output: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tool output: %w", err)
	}
	return id, nil
}

// GetToolOutput returns the decompressed output stored for a tool run, or nil
// if none was kept.
func (s *Store) GetToolOutput(toolRunID int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT o.payload_compressed
		FROM tool_runs r
		JOIN tool_output o ON o.payload_hash = r.output_hash
		WHERE r.id = ?
	`, toolRunID).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// CleanupOldOutput deletes stored output older than retentionDays and returns
// the number of deleted rows.
func (s *Store) CleanupOldOutput(retentionDays int) (int64, error) {
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`
		DELETE FROM tool_output
		WHERE SUBSTR(created_at, 1, 19) < ?
	`, cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
