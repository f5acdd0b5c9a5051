package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/scratchlab/execorch/types"
	"github.com/stretchr/testify/require"
)

func TestDisabledTracerWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	tr := New(false, nil, &buf)
	tr.Dispatch("a", types.Scripted, "h1")
	require.Empty(t, buf.String())
}

func TestEnabledTracerWithNoFiltersTracesEverything(t *testing.T) {
	var buf bytes.Buffer
	tr := New(true, nil, &buf)
	tr.Dispatch("a", types.Scripted, "h1")
	require.Contains(t, buf.String(), "DISPATCH task=a language=scripted handle=h1")
}

func TestFilterMatchesTaskID(t *testing.T) {
	var buf bytes.Buffer
	tr := New(true, []string{"a-*"}, &buf)
	tr.Dispatch("a-1", types.Scripted, "h1")
	tr.Dispatch("b-1", types.Scripted, "h1")
	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "DISPATCH"))
	require.Contains(t, out, "task=a-1")
}

func TestFilterMatchesLanguage(t *testing.T) {
	var buf bytes.Buffer
	tr := New(true, []string{"interpreted"}, &buf)
	tr.Dispatch("a", types.Scripted, "h1")
	tr.Dispatch("b", types.Interpreted, "h2")
	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "DISPATCH"))
	require.Contains(t, out, "language=interpreted")
}
