package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
)

type memSource struct {
	claims    []Claim
	fragments []Fragment
}

func (s *memSource) ClaimsForTask(ctx context.Context, taskID string) ([]Claim, error) {
	return s.claims, nil
}
func (s *memSource) FragmentsForTask(ctx context.Context, taskID string) ([]Fragment, error) {
	return s.fragments, nil
}

type stubNLI struct {
	stance     Stance
	confidence float64
}

func (n *stubNLI) ClassifyBatch(ctx context.Context, claimText string, fragments []Fragment) ([]NLIResult, error) {
	out := make([]NLIResult, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, NLIResult{FragmentID: f.ID, Stance: n.stance, Confidence: n.confidence})
	}
	return out, nil
}

type memEdges struct {
	edges []models.Edge
}

func (e *memEdges) Insert(ctx context.Context, edge models.Edge) (bool, error) {
	for _, existing := range e.edges {
		if existing.SourceType == edge.SourceType && existing.SourceID == edge.SourceID &&
			existing.TargetType == edge.TargetType && existing.TargetID == edge.TargetID &&
			existing.Relation == edge.Relation {
			return false, nil
		}
	}
	e.edges = append(e.edges, edge)
	return true, nil
}
func (e *memEdges) ForTarget(ctx context.Context, targetType models.EntityType, targetID string) ([]models.Edge, error) {
	var out []models.Edge
	for _, edge := range e.edges {
		if edge.TargetType == targetType && edge.TargetID == targetID {
			out = append(out, edge)
		}
	}
	return out, nil
}

func defaultConfig() Config {
	return Config{RecallLimit: 10, NLIBatchSize: 4, MaxDomains: 5, ConfidenceThreshold: 0.7, SaveNeutral: false}
}

func TestVerifyTaskNoOpsOnEmptyClaims(t *testing.T) {
	source := &memSource{}
	edges := &memEdges{}
	v := NewVerifier(common.NewTestLogger(), source, &stubNLI{stance: StanceSupports, confidence: 0.9}, edges, defaultConfig())

	n, err := v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, edges.edges)
}

func TestVerifyTaskExcludesOriginDomainFragments(t *testing.T) {
	source := &memSource{
		claims: []Claim{{ID: "claim-1", TaskID: "task-1", Text: "the sky is blue", Embedding: []float32{1, 0}}},
		fragments: []Fragment{
			{ID: "frag-origin", TaskID: "task-1", Domain: "origin.example.com", Text: "origin text", Embedding: []float32{1, 0}},
			{ID: "frag-other", TaskID: "task-1", Domain: "other.example.com", Text: "other text", Embedding: []float32{1, 0}},
		},
	}
	edges := &memEdges{edges: []models.Edge{
		{SourceType: models.EntityFragment, SourceID: "frag-origin", TargetType: models.EntityClaim, TargetID: "claim-1", Relation: models.RelationOrigin},
	}}
	nli := &stubNLI{stance: StanceSupports, confidence: 0.95}
	v := NewVerifier(common.NewTestLogger(), source, nli, edges, defaultConfig())

	n, err := v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, edges.edges, 2)
	assert.Equal(t, "frag-other", edges.edges[1].SourceID)
}

func TestVerifyTaskSkipsLowConfidenceSupportsRefutes(t *testing.T) {
	source := &memSource{
		claims:    []Claim{{ID: "claim-1", TaskID: "task-1", Text: "claim", Embedding: []float32{1, 0}}},
		fragments: []Fragment{{ID: "frag-1", TaskID: "task-1", Domain: "a.example.com", Text: "frag", Embedding: []float32{1, 0}}},
	}
	edges := &memEdges{}
	nli := &stubNLI{stance: StanceSupports, confidence: 0.4}
	v := NewVerifier(common.NewTestLogger(), source, nli, edges, defaultConfig())

	n, err := v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVerifyTaskNeutralRequiresSaveNeutralFlag(t *testing.T) {
	source := &memSource{
		claims:    []Claim{{ID: "claim-1", TaskID: "task-1", Text: "claim", Embedding: []float32{1, 0}}},
		fragments: []Fragment{{ID: "frag-1", TaskID: "task-1", Domain: "a.example.com", Text: "frag", Embedding: []float32{1, 0}}},
	}
	edges := &memEdges{}
	nli := &stubNLI{stance: StanceNeutral, confidence: 0.99}
	cfg := defaultConfig()
	v := NewVerifier(common.NewTestLogger(), source, nli, edges, cfg)

	n, err := v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cfg.SaveNeutral = true
	v = NewVerifier(common.NewTestLogger(), source, nli, edges, cfg)
	n, err = v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVerifyTaskExcludesFragmentsAlreadyScored(t *testing.T) {
	source := &memSource{
		claims:    []Claim{{ID: "claim-1", TaskID: "task-1", Text: "claim", Embedding: []float32{1, 0}}},
		fragments: []Fragment{{ID: "frag-1", TaskID: "task-1", Domain: "a.example.com", Text: "frag", Embedding: []float32{1, 0}}},
	}
	edges := &memEdges{edges: []models.Edge{
		{SourceType: models.EntityFragment, SourceID: "frag-1", TargetType: models.EntityClaim, TargetID: "claim-1", Relation: models.RelationSupports},
	}}
	nli := &stubNLI{stance: StanceSupports, confidence: 0.95}
	v := NewVerifier(common.NewTestLogger(), source, nli, edges, defaultConfig())

	n, err := v.VerifyTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, edges.edges, 1)
}

func TestCosineSimilarityOrdering(t *testing.T) {
	identical := cosineSimilarity([]float32{1, 0}, []float32{1, 0})
	orthogonal := cosineSimilarity([]float32{1, 0}, []float32{0, 1})
	assert.InDelta(t, 1.0, identical, 0.0001)
	assert.InDelta(t, 0.0, orthogonal, 0.0001)
}
