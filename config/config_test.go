package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	c := Default()
	require.Equal(t, 4, c.ScriptedCeiling)
	require.Equal(t, 2, c.InterpretedCeiling)
	require.Equal(t, 30_000, c.DefaultTimeoutMs)
	require.Equal(t, 5_000, c.ScriptedGraceMs)
	require.Equal(t, 15_000, c.InterpretedGraceMs)
	require.Equal(t, 2_000, c.ForceTimeoutMs)
	require.Equal(t, 100, c.QueueCeiling)
	require.False(t, c.IdleRetirementEnabled)
	require.Equal(t, 2048, c.BytecodeMaxPages)
}
