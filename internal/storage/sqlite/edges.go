package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ternarybob/lancet/internal/models"
)

// EdgeStore persists the evidence graph's edges table, including the
// partial-unique-index insert-or-ignore semantics for verification edges
//.
type EdgeStore struct {
	db *SQLiteDB
}

func NewEdgeStore(db *SQLiteDB) *EdgeStore {
	return &EdgeStore{db: db}
}

// Insert writes an edge. For uniqueness-constrained relations (supports,
// refutes, neutral) a conflicting (source, target, relation) tuple is
// silently ignored and inserted=false is returned rather than an error,
// since a duplicate verification attempt is an expected race, not a fault.
func (s *EdgeStore) Insert(ctx context.Context, e models.Edge) (inserted bool, err error) {
	res, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO edges (source_type, source_id, target_type, target_id, relation, nli_confidence, source_domain)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		string(e.SourceType), e.SourceID, string(e.TargetType), e.TargetID, string(e.Relation), e.NLIConfidence, e.SourceDomain)
	if err != nil {
		// modernc.org/sqlite surfaces some conflict paths as constraint errors
		// rather than honoring ON CONFLICT DO NOTHING on older index forms.
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

// ExistsVerificationEdge reports whether a supports/refutes/neutral edge
// already exists for (sourceType, sourceID, targetType, targetID), used by
// the cross-verifier to skip re-scoring an already-decided pair.
func (s *EdgeStore) ExistsVerificationEdge(ctx context.Context, sourceType models.EntityType, sourceID string, targetType models.EntityType, targetID string) (bool, error) {
	var n int
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE source_type = ? AND source_id = ? AND target_type = ? AND target_id = ?
		AND relation IN ('supports', 'refutes', 'neutral')`,
		string(sourceType), sourceID, string(targetType), targetID).Scan(&n)
	return n > 0, err
}

// ForTarget returns every edge pointing at (targetType, targetID), used to
// assemble a claim or paper's incoming provenance/verification edges.
func (s *EdgeStore) ForTarget(ctx context.Context, targetType models.EntityType, targetID string) ([]models.Edge, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, source_type, source_id, target_type, target_id, relation, nli_confidence, source_domain
		FROM edges WHERE target_type = ? AND target_id = ?`, string(targetType), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []models.Edge
	for rows.Next() {
		var e models.Edge
		var confidence sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID, &e.Relation, &confidence, &e.SourceDomain); err != nil {
			return nil, err
		}
		if confidence.Valid {
			v := confidence.Float64
			e.NLIConfidence = &v
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
