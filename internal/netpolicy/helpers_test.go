package netpolicy

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/common"
)

func testLogger() arbor.ILogger {
	return common.NewTestLogger()
}
