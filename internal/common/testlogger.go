package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// NewTestLogger returns a console-only logger suitable for unit tests, without
// touching the global singleton InitLogger/GetLogger wire.
func NewTestLogger() arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(createWriterConfig(nil, models.LogWriterTypeConsole, "")).WithLevelFromString("error")
}
