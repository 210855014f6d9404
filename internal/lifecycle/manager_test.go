package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
)

func TestReleaseTaskReleasesInReverseOrder(t *testing.T) {
	m := NewManager(common.NewTestLogger())
	var order []string

	m.Register("task-1", models.Resource{ResourceID: "r1", Kind: models.ResourceBrowser}, func() error {
		order = append(order, "r1")
		return nil
	})
	m.Register("task-1", models.Resource{ResourceID: "r2", Kind: models.ResourceBrowserContext}, func() error {
		order = append(order, "r2")
		return nil
	})

	m.ReleaseTask("task-1")

	assert.Equal(t, []string{"r2", "r1"}, order)
}

func TestReleaseTaskIsIdempotent(t *testing.T) {
	m := NewManager(common.NewTestLogger())
	calls := 0
	m.Register("task-1", models.Resource{ResourceID: "r1"}, func() error {
		calls++
		return nil
	})

	m.ReleaseTask("task-1")
	m.ReleaseTask("task-1")

	assert.Equal(t, 1, calls)
}

func TestReleaseSwallowsErrorsAndContinues(t *testing.T) {
	m := NewManager(common.NewTestLogger())
	var order []string

	m.Register("task-1", models.Resource{ResourceID: "r1"}, func() error {
		order = append(order, "r1")
		return errors.New("boom")
	})
	m.Register("task-1", models.Resource{ResourceID: "r2"}, func() error {
		order = append(order, "r2")
		return nil
	})

	assert.NotPanics(t, func() { m.ReleaseTask("task-1") })
	assert.Equal(t, []string{"r2", "r1"}, order)
}
