package errkind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStrings(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{None, "none"},
		{Transpile, "transpile"},
		{UnknownLanguage, "unknown-language"},
		{Cancelled, "cancelled"},
		{Timeout, "timeout"},
		{CancelError, "cancel-error"},
		{WorkerCrash, "worker-crash"},
		{QueueFull, "queue-full"},
		{Execution, "execution"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.kind.String())
	}
}

func TestHostVisible(t *testing.T) {
	notVisible := []Kind{Transpile, UnknownLanguage, QueueFull}
	for _, k := range notVisible {
		require.False(t, k.HostVisible(), "%s should not be host-visible", k)
	}

	visible := []Kind{Cancelled, Timeout, CancelError, WorkerCrash, Execution}
	for _, k := range visible {
		require.True(t, k.HostVisible(), "%s should be host-visible", k)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(WorkerCrash, "exit status 137")
	require.Equal(t, "worker-crash: exit status 137", err.Error())

	bare := New(Cancelled, "")
	require.Equal(t, "cancelled", bare.Error())
}
