// Package profile implements the browser-fingerprint audit: baseline
// capture, drift detection, and repair dispatch.
package profile

import (
	"reflect"

	"github.com/ternarybob/arbor"
)

// Status is the closed audit outcome taxonomy.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusDrift   Status = "drift"
	StatusFail    Status = "fail"
)

// Fingerprint is the set of browser attributes compared against a baseline.
type Fingerprint struct {
	UserAgentMajorVersion string
	Language              string
	Timezone              string
	FontSetSignature      string
	CanvasHash            string
	AudioHash             string
	Screen                string
}

// Result is the outcome of one audit pass.
type Result struct {
	Status  Status
	Drifted []string // attribute names that differ from baseline, when Status==DRIFT
	Err     error    // set when Status==FAIL
}

// RepairAction is the closed set of remediations a drifted attribute maps to.
type RepairAction string

const (
	RepairRestartFlag       RepairAction = "restart_flag_injection"
	RepairFontResync        RepairAction = "font_resync"
	RepairProfileRecreation RepairAction = "profile_recreation"
)

// repairTable maps each driftable attribute to its remediation.
var repairTable = map[string]RepairAction{
	"UserAgentMajorVersion": RepairAction("profile_recreation"),
	"Language":              RepairAction("restart_flag_injection"),
	"Timezone":              RepairAction("restart_flag_injection"),
	"FontSetSignature":      RepairAction("font_resync"),
	"CanvasHash":            RepairAction("profile_recreation"),
	"AudioHash":             RepairAction("profile_recreation"),
	"Screen":                RepairAction("restart_flag_injection"),
}

// RepairOutcome records a repair attempt's before/after values for logging.
type RepairOutcome struct {
	Attribute string
	Action    RepairAction
	Before    string
	After     string
	Err       error
}

// Repairer executes a repair action. Implementations live alongside the
// browser fetcher, which owns the attached-browser profile.
type Repairer interface {
	Repair(action RepairAction, attribute string) (after string, err error)
}

// Auditor captures fingerprints, compares against a baseline, and dispatches
// repairs. The audit itself never fails the host navigation: FAIL is a
// classification, not a propagated error.
type Auditor struct {
	logger   arbor.ILogger
	repairer Repairer
}

func NewAuditor(logger arbor.ILogger, repairer Repairer) *Auditor {
	return &Auditor{logger: logger, repairer: repairer}
}

// Audit compares current against baseline and classifies the result.
// captureErr, if non-nil, means fingerprint collection itself failed.
func (a *Auditor) Audit(baseline, current Fingerprint, captureErr error) Result {
	if captureErr != nil {
		return Result{Status: StatusFail, Err: captureErr}
	}

	drifted := diff(baseline, current)
	if len(drifted) == 0 {
		return Result{Status: StatusHealthy}
	}
	return Result{Status: StatusDrift, Drifted: drifted}
}

// Repair dispatches each drifted attribute to its repair action and logs
// before/after values. Errors from individual repairs are logged, not
// returned, to keep the audit non-blocking.
func (a *Auditor) Repair(result Result, before Fingerprint) []RepairOutcome {
	if result.Status != StatusDrift || a.repairer == nil {
		return nil
	}
	outcomes := make([]RepairOutcome, 0, len(result.Drifted))
	for _, attr := range result.Drifted {
		action, ok := repairTable[attr]
		if !ok {
			continue
		}
		beforeVal := fieldValue(before, attr)
		after, err := a.repairer.Repair(action, attr)
		outcome := RepairOutcome{Attribute: attr, Action: action, Before: beforeVal, After: after, Err: err}
		outcomes = append(outcomes, outcome)
		if err != nil {
			a.logger.Warn().Err(err).Str("attribute", attr).Str("action", string(action)).Msg("profile repair failed")
		} else {
			a.logger.Info().Str("attribute", attr).Str("action", string(action)).Str("before", beforeVal).Str("after", after).Msg("profile repair applied")
		}
	}
	return outcomes
}

func diff(baseline, current Fingerprint) []string {
	var drifted []string
	bv := reflect.ValueOf(baseline)
	cv := reflect.ValueOf(current)
	t := bv.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		if bv.Field(i).Interface() != cv.Field(i).Interface() {
			drifted = append(drifted, name)
		}
	}
	return drifted
}

func fieldValue(fp Fingerprint, field string) string {
	v := reflect.ValueOf(fp)
	f := v.FieldByName(field)
	if !f.IsValid() {
		return ""
	}
	return f.String()
}
