package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSugaredLogger(t *testing.T) {
	dev, err := NewSugaredLogger(true)
	require.NoError(t, err)
	assert.True(t, dev.Desugar().Core().Enabled(zap.DebugLevel))

	prod, err := NewSugaredLogger(false)
	require.NoError(t, err)
	assert.False(t, prod.Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(t, prod.Desugar().Core().Enabled(zap.InfoLevel))
}
