package sqlite

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/lancet/internal/verify"
)

// FragmentStore reads the fragments and claims tables cross-verification
// scores against. It satisfies verify.FragmentSource; the rows themselves
// are written by a content-extraction collaborator outside this package's
// scope.
type FragmentStore struct {
	db *SQLiteDB
}

func NewFragmentStore(db *SQLiteDB) *FragmentStore {
	return &FragmentStore{db: db}
}

func (s *FragmentStore) ClaimsForTask(ctx context.Context, taskID string) ([]verify.Claim, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT id, task_id, text, embedding FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []verify.Claim
	for rows.Next() {
		var c verify.Claim
		var embedding string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Text, &embedding); err != nil {
			return nil, err
		}
		c.Embedding = decodeEmbedding(embedding)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *FragmentStore) FragmentsForTask(ctx context.Context, taskID string) ([]verify.Fragment, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT id, task_id, domain, text, embedding FROM fragments WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []verify.Fragment
	for rows.Next() {
		var f verify.Fragment
		var embedding string
		if err := rows.Scan(&f.ID, &f.TaskID, &f.Domain, &f.Text, &embedding); err != nil {
			return nil, err
		}
		f.Embedding = decodeEmbedding(embedding)
		out = append(out, f)
	}
	return out, rows.Err()
}

func decodeEmbedding(raw string) []float32 {
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}
