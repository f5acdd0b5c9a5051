package registry

import (
	"testing"

	"github.com/scratchlab/execorch/types"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownLanguage(t *testing.T) {
	r := New()
	r.Register(Entry{Tag: types.Scripted, Kind: KindScripted})

	e, ok := r.Resolve(types.Scripted)
	require.True(t, ok)
	require.Equal(t, KindScripted, e.Kind)
}

func TestResolveUnknownLanguageMisses(t *testing.T) {
	r := New()
	_, ok := r.Resolve(types.Language("bytecode-ruby"))
	require.False(t, ok)
}

func TestRegisterOverwritesExisting(t *testing.T) {
	r := New()
	r.Register(Entry{Tag: "bytecode-lua", Kind: KindBytecode, Ceiling: 1})
	r.Register(Entry{Tag: "bytecode-lua", Kind: KindBytecode, Ceiling: 3})

	e, ok := r.Resolve("bytecode-lua")
	require.True(t, ok)
	require.Equal(t, 3, e.Ceiling)
}

func TestTagsReturnsEveryRegisteredLanguage(t *testing.T) {
	r := New()
	r.Register(Entry{Tag: types.Scripted, Kind: KindScripted})
	r.Register(Entry{Tag: types.Interpreted, Kind: KindInterpreted})

	require.ElementsMatch(t, []types.Language{types.Scripted, types.Interpreted}, r.Tags())
}
