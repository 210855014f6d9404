package profile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/lancet/internal/common"
)

func baseFingerprint() Fingerprint {
	return Fingerprint{
		UserAgentMajorVersion: "120",
		Language:              "en-US",
		Timezone:              "UTC",
		FontSetSignature:      "abc123",
		CanvasHash:            "canvas1",
		AudioHash:             "audio1",
		Screen:                "1920x1080",
	}
}

func TestAuditHealthyWhenNoDrift(t *testing.T) {
	a := NewAuditor(common.NewTestLogger(), nil)
	fp := baseFingerprint()
	result := a.Audit(fp, fp, nil)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestAuditDriftListsChangedAttributes(t *testing.T) {
	a := NewAuditor(common.NewTestLogger(), nil)
	baseline := baseFingerprint()
	current := baseline
	current.Timezone = "America/New_York"
	current.Screen = "2560x1440"

	result := a.Audit(baseline, current, nil)
	assert.Equal(t, StatusDrift, result.Status)
	assert.ElementsMatch(t, []string{"Timezone", "Screen"}, result.Drifted)
}

func TestAuditFailOnCaptureError(t *testing.T) {
	a := NewAuditor(common.NewTestLogger(), nil)
	result := a.Audit(Fingerprint{}, Fingerprint{}, errors.New("capture failed"))
	assert.Equal(t, StatusFail, result.Status)
	assert.Error(t, result.Err)
}

type fakeRepairer struct {
	calls []RepairAction
}

func (f *fakeRepairer) Repair(action RepairAction, attribute string) (string, error) {
	f.calls = append(f.calls, action)
	return "repaired-" + attribute, nil
}

func TestRepairDispatchesEachDriftedAttribute(t *testing.T) {
	repairer := &fakeRepairer{}
	a := NewAuditor(common.NewTestLogger(), repairer)
	baseline := baseFingerprint()
	current := baseline
	current.FontSetSignature = "xyz789"

	result := a.Audit(baseline, current, nil)
	outcomes := a.Repair(result, baseline)

	assert.Len(t, outcomes, 1)
	assert.Equal(t, RepairFontResync, outcomes[0].Action)
	assert.Equal(t, "repaired-FontSetSignature", outcomes[0].After)
}
