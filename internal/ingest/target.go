// Package ingest implements the target_queue job action: resolving a
// submitted target to a URL, running it through the HTTP fetcher with a
// browser fallback on challenge detection, and feeding the verify_nli
// follow-up pipeline with the fetched page's address.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/fetch"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/netpolicy"
	"github.com/ternarybob/lancet/internal/netutil"
	"github.com/ternarybob/lancet/internal/queue"
)

// TargetKind is the closed set of submit_target target kinds.
type TargetKind string

const (
	TargetKindQuery TargetKind = "query"
	TargetKindURL   TargetKind = "url"
	TargetKindDOI   TargetKind = "doi"
)

// TargetOptions carries per-submission overrides.
type TargetOptions struct {
	UseTor         bool    `json:"use_tor"`
	UserInitiated  bool    `json:"user_initiated"`
	MaxPages       int     `json:"max_pages"`
	MaxTimeSeconds int     `json:"max_time_seconds"`
	MaxLLMRatio    float64 `json:"max_llm_ratio"`
}

// TargetInput is the JSON shape stored as a target_queue job's input.
type TargetInput struct {
	Kind    TargetKind    `json:"kind"`
	Value   string        `json:"value"`
	Options TargetOptions `json:"options"`
}

// TargetOutput is the JSON shape stored as a target_queue job's output.
type TargetOutput struct {
	URL          string `json:"url"`
	FinalURL     string `json:"final_url"`
	Status       int    `json:"status"`
	ContentHash  string `json:"content_hash"`
	Method       string `json:"method"` // "http" or "browser"
	AuthRequired bool   `json:"auth_required"`
	QueueID      string `json:"queue_id,omitempty"`
}

// Runner executes target_queue jobs, satisfying queue.ActionFunc via Execute.
type Runner struct {
	logger         arbor.ILogger
	httpFetcher    *fetch.HTTPFetcher
	browserFetcher *fetch.BrowserFetcher
	policy         netpolicy.PolicyLookup
	budgetMgr      *budget.Manager
	userAgent      string
	browserWorkers int
	nextWorker     atomic.Int64
}

func NewRunner(logger arbor.ILogger, httpFetcher *fetch.HTTPFetcher, browserFetcher *fetch.BrowserFetcher, policy netpolicy.PolicyLookup, budgetMgr *budget.Manager, userAgent string, browserWorkers int) *Runner {
	if browserWorkers <= 0 {
		browserWorkers = 1
	}
	return &Runner{
		logger:         logger,
		httpFetcher:    httpFetcher,
		browserFetcher: browserFetcher,
		policy:         policy,
		budgetMgr:      budgetMgr,
		userAgent:      userAgent,
		browserWorkers: browserWorkers,
	}
}

// Execute implements queue.ActionFunc for JobKindTargetQueue.
func (r *Runner) Execute(ctx context.Context, job models.Job) (queue.ActionResult, error) {
	var input TargetInput
	if err := job.DecodeInput(&input); err != nil {
		return queue.ActionResult{}, fmt.Errorf("decode target input: %w", err)
	}

	targetURL, err := resolveTargetURL(input)
	if err != nil {
		return queue.ActionResult{}, err
	}

	if job.TaskID != "" && r.budgetMgr != nil {
		if ok, reason := r.budgetMgr.AdmitFetch(job.TaskID, time.Now()); !ok {
			return queue.ActionResult{}, fmt.Errorf("budget_exceeded:%s", reason)
		}
	}

	domain := netutil.RegistrableDomain(targetURL)
	policy := r.policy.Get(domain)
	useTor := input.Options.UseTor && policy.TorAllowed

	req := fetch.Request{
		URL:                    targetURL,
		UseTor:                 useTor,
		ResolveDNSThroughProxy: useTor,
		UserAgent:              r.userAgent,
		UserInitiated:          input.Options.UserInitiated,
	}

	result := r.httpFetcher.Fetch(ctx, req)
	output := TargetOutput{URL: targetURL, FinalURL: result.FinalURL, Status: result.Status, ContentHash: result.ContentHash, Method: "http"}

	if !result.OK && result.Reason == "challenge_detected" && r.browserFetcher != nil {
		workerIndex := int(r.nextWorker.Add(1)-1) % r.browserWorkers
		browserResult := r.browserFetcher.Fetch(ctx, req, workerIndex, job.TaskID, job.ID)
		output.Method = "browser"
		output.FinalURL = browserResult.FinalURL
		output.Status = browserResult.Status
		output.ContentHash = browserResult.ContentHash
		output.AuthRequired = browserResult.AuthRequired
		output.QueueID = browserResult.QueueID

		if browserResult.AuthRequired {
			data, _ := json.Marshal(output)
			return queue.ActionResult{Output: string(data)}, fmt.Errorf("auth_required:%s", browserResult.QueueID)
		}
		if !browserResult.OK {
			return queue.ActionResult{}, fmt.Errorf("%s", browserResult.Reason)
		}
		result = browserResult.Result
	} else if !result.OK {
		return queue.ActionResult{}, fmt.Errorf("%s", result.Reason)
	}

	if job.TaskID != "" && r.budgetMgr != nil {
		if err := r.budgetMgr.RecordFetch(job.TaskID); err != nil {
			r.logger.Warn().Err(err).Str("task_id", job.TaskID).Msg("failed to record fetch against budget")
		}
	}

	data, err := json.Marshal(output)
	if err != nil {
		return queue.ActionResult{}, err
	}
	return queue.ActionResult{Output: string(data)}, nil
}

// resolveTargetURL maps a submit_target kind/value pair to a fetchable URL.
// Query resolution requires search-engine integration, which lives outside
// this core per its own scope boundary.
func resolveTargetURL(input TargetInput) (string, error) {
	switch input.Kind {
	case TargetKindURL:
		if input.Value == "" {
			return "", fmt.Errorf("url target requires a non-empty value")
		}
		return input.Value, nil
	case TargetKindDOI:
		if input.Value == "" {
			return "", fmt.Errorf("doi target requires a non-empty value")
		}
		return "https://doi.org/" + input.Value, nil
	case TargetKindQuery:
		return "", fmt.Errorf("query_resolution_unavailable: search-engine integration is a collaborator concern")
	default:
		return "", fmt.Errorf("unknown target kind %q", input.Kind)
	}
}
