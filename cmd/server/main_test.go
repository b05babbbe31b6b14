package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	usageconfig "callgate/internal/usage/config"
)

func TestOperationsIncludesConfiguredTTLs(t *testing.T) {
	cfg := usageconfig.DefaultConfig()
	cfg.CacheTTLs["summarize"] = time.Minute

	assert.Equal(t, []string{"analyze", "generate", "summarize"}, operations(cfg))
}
