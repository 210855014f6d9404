// Package verify implements cross-verification (M): vector-recall candidate
// selection followed by NLI scoring of claim/fragment pairs, with idempotent
// edge persistence.
package verify

import (
	"context"

	"github.com/ternarybob/lancet/internal/models"
)

// Fragment is a task-scoped evidence fragment available for NLI scoring
// against a claim. Its schema is owned outside this package;
// this struct is the read-only shape the core depends on.
type Fragment struct {
	ID        string
	TaskID    string
	Domain    string
	Text      string
	Embedding []float32
}

// Claim is a task-scoped assertion extracted from a fragment, verified
// against other fragments of the same task.
type Claim struct {
	ID        string
	TaskID    string
	Text      string
	Embedding []float32
}

// Stance is the closed set of NLI verdicts.
type Stance string

const (
	StanceSupports Stance = "supports"
	StanceRefutes  Stance = "refutes"
	StanceNeutral  Stance = "neutral"
)

func (s Stance) relation() models.Relation {
	switch s {
	case StanceSupports:
		return models.RelationSupports
	case StanceRefutes:
		return models.RelationRefutes
	default:
		return models.RelationNeutral
	}
}

// NLIResult is one claim/fragment pair's classification.
type NLIResult struct {
	FragmentID string
	Stance     Stance
	Confidence float64
}

// FragmentSource retrieves the fragments and claims belonging to a task, the
// read side of a schema owned outside this package.
type FragmentSource interface {
	ClaimsForTask(ctx context.Context, taskID string) ([]Claim, error)
	FragmentsForTask(ctx context.Context, taskID string) ([]Fragment, error)
}

// NLIClient runs NLI classification for a claim against a batch of candidate
// fragments.
type NLIClient interface {
	ClassifyBatch(ctx context.Context, claimText string, fragments []Fragment) ([]NLIResult, error)
}

// EdgeStore is the subset of storage/sqlite.EdgeStore this package depends on.
type EdgeStore interface {
	Insert(ctx context.Context, e models.Edge) (bool, error)
	ForTarget(ctx context.Context, targetType models.EntityType, targetID string) ([]models.Edge, error)
}
