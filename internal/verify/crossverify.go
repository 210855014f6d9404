package verify

import (
	"context"
	"math"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// Config governs candidate selection and persistence thresholds, exposed as
// common.VerifyConfig.
type Config struct {
	RecallLimit         int
	NLIBatchSize        int
	MaxDomains          int
	ConfidenceThreshold float64
	SaveNeutral         bool
}

// Verifier runs cross-verification for a task's claims against its
// fragments (component M).
type Verifier struct {
	logger  arbor.ILogger
	source  FragmentSource
	nli     NLIClient
	edges   EdgeStore
	config  Config
}

func NewVerifier(logger arbor.ILogger, source FragmentSource, nli NLIClient, edges EdgeStore, config Config) *Verifier {
	return &Verifier{logger: logger, source: source, nli: nli, edges: edges, config: config}
}

// VerifyTask runs cross-verification for every claim belonging to taskID,
// returning the number of edges persisted. A task with no claims or no
// fragments is a safe no-op.
func (v *Verifier) VerifyTask(ctx context.Context, taskID string) (int, error) {
	if taskID == "" {
		return 0, nil
	}

	claims, err := v.source.ClaimsForTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if len(claims) == 0 {
		return 0, nil
	}

	fragments, err := v.source.FragmentsForTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if len(fragments) == 0 {
		return 0, nil
	}

	total := 0
	for _, claim := range claims {
		n, err := v.verifyClaim(ctx, claim, fragments)
		if err != nil {
			v.logger.Warn().Err(err).Str("claim_id", claim.ID).Msg("cross-verification failed for claim")
			continue
		}
		total += n
	}
	return total, nil
}

func (v *Verifier) verifyClaim(ctx context.Context, claim Claim, fragments []Fragment) (int, error) {
	candidates, err := v.selectCandidates(ctx, claim, fragments)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	persisted := 0
	batchSize := v.config.NLIBatchSize
	if batchSize <= 0 {
		batchSize = len(candidates)
	}
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		results, err := v.nli.ClassifyBatch(ctx, claim.Text, batch)
		if err != nil {
			return persisted, err
		}
		for _, result := range results {
			ok, err := v.persist(ctx, result, claim)
			if err != nil {
				v.logger.Warn().Err(err).Str("fragment_id", result.FragmentID).Str("claim_id", claim.ID).Msg("failed to persist verification edge")
				continue
			}
			if ok {
				persisted++
			}
		}
	}
	return persisted, nil
}

func (v *Verifier) persist(ctx context.Context, result NLIResult, claim Claim) (bool, error) {
	if result.Stance == StanceNeutral && !v.config.SaveNeutral {
		return false, nil
	}
	if result.Stance != StanceNeutral && result.Confidence < v.config.ConfidenceThreshold {
		return false, nil
	}

	confidence := result.Confidence
	edge := models.Edge{
		SourceType:    models.EntityFragment,
		SourceID:      result.FragmentID,
		TargetType:    models.EntityClaim,
		TargetID:      claim.ID,
		Relation:      result.Stance.relation(),
		NLIConfidence: &confidence,
	}
	return v.edges.Insert(ctx, edge)
}

// selectCandidates runs three-step candidate selection: origin-domain
// exclusion, similarity recall, then diversity-capped top-K.
func (v *Verifier) selectCandidates(ctx context.Context, claim Claim, fragments []Fragment) ([]Fragment, error) {
	edges, err := v.edges.ForTarget(ctx, models.EntityClaim, claim.ID)
	if err != nil {
		return nil, err
	}
	originDomains := originDomainsFromEdges(edges, fragments)
	alreadyScored := alreadyScoredFragmentIDs(edges)

	type scored struct {
		fragment   Fragment
		similarity float64
	}
	pool := make([]scored, 0, len(fragments))
	for _, f := range fragments {
		if f.TaskID != claim.TaskID {
			continue
		}
		if originDomains[f.Domain] {
			continue
		}
		if alreadyScored[f.ID] {
			continue
		}
		pool = append(pool, scored{fragment: f, similarity: cosineSimilarity(claim.Embedding, f.Embedding)})
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].similarity > pool[j].similarity })

	topK := v.config.RecallLimit
	if topK <= 0 {
		topK = len(pool)
	}
	maxDomains := v.config.MaxDomains

	out := make([]Fragment, 0, topK)
	domains := make(map[string]bool)
	for _, s := range pool {
		if len(out) >= topK {
			break
		}
		if maxDomains > 0 && !domains[s.fragment.Domain] && len(domains) >= maxDomains {
			continue
		}
		domains[s.fragment.Domain] = true
		out = append(out, s.fragment)
	}
	return out, nil
}

// originDomainsFromEdges returns the distinct domains of fragments reachable
// via origin edges into the claim.
func originDomainsFromEdges(edges []models.Edge, fragments []Fragment) map[string]bool {
	byID := make(map[string]Fragment, len(fragments))
	for _, f := range fragments {
		byID[f.ID] = f
	}

	domains := make(map[string]bool)
	for _, e := range edges {
		if e.Relation != models.RelationOrigin || e.SourceType != models.EntityFragment {
			continue
		}
		if f, ok := byID[e.SourceID]; ok {
			domains[f.Domain] = true
		}
	}
	return domains
}

// alreadyScoredFragmentIDs excludes fragments that already hold a
// supports/refutes/neutral edge to the claim.
func alreadyScoredFragmentIDs(edges []models.Edge) map[string]bool {
	scored := make(map[string]bool)
	for _, e := range edges {
		if e.SourceType == models.EntityFragment && e.Relation.UniquenessConstrained() {
			scored[e.SourceID] = true
		}
	}
	return scored
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
