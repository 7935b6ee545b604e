// Copyright 2025 The strex Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package transcript persists exchange histories to a sqlite file so a
// normalization session can be replayed or audited after the fact.
package transcript

import (
	"context"
	"database/sql"
	json "encoding/json/v2"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strexlabs/strex/exchange"
)

// Record is one persisted round trip of an exchange: the turns appended
// since the previous record and the result the round trip produced.
type Record struct {
	ExchangeID string           `json:"exchange_id"`
	Seq        int              `json:"seq"`
	Backend    string           `json:"backend"`
	Turns      []exchange.Turn  `json:"turns"`
	Result     *exchange.Result `json:"result,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store is a sqlite-backed transcript log. Methods are safe for
// concurrent use.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the transcript database at file path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("transcript: path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		exchange_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		blob BLOB NOT NULL,
		PRIMARY KEY (exchange_id, seq)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Append stores the turns and result of one round trip under exchangeID,
// assigning the next sequence number.
func (s *Store) Append(ctx context.Context, exchangeID, backend string, turns []exchange.Turn, result *exchange.Result) error {
	if exchangeID == "" {
		return errors.New("transcript: exchange id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM records WHERE exchange_id = ?`, exchangeID)
	if err := row.Scan(&seq); err != nil {
		return err
	}

	rec := &Record{
		ExchangeID: exchangeID,
		Seq:        seq,
		Backend:    backend,
		Turns:      turns,
		Result:     result,
		CreatedAt:  time.Now().UTC(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO records(exchange_id, seq, blob) VALUES(?,?,?)`, exchangeID, seq, b)
	return err
}

// List returns the records of one exchange in sequence order.
func (s *Store) List(ctx context.Context, exchangeID string) ([]*Record, error) {
	if exchangeID == "" {
		return nil, errors.New("transcript: exchange id required")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT blob FROM records WHERE exchange_id = ? ORDER BY seq`, exchangeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		rec := &Record{}
		if err := json.Unmarshal(b, rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Exchanges returns the distinct exchange ids present in the store.
func (s *Store) Exchanges(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT exchange_id FROM records ORDER BY exchange_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
