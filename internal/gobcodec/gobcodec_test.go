package gobcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type exportedPayload struct {
	Name  string
	Count int
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := exportedPayload{Name: "vote", Count: 3}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out exportedPayload
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in, out)
}

type withUnexportedField struct {
	Visible string
	hidden  int
}

func TestWarnIfUnexportedDoesNotBreakEncoding(t *testing.T) {
	// gob silently drops hidden; Marshal must still succeed (only a warning
	// is printed) since the exported fields still round-trip correctly.
	in := withUnexportedField{Visible: "kept", hidden: 99}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out withUnexportedField
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, "kept", out.Visible)
	require.Zero(t, out.hidden)
}

type registeredUnion struct {
	Payload interface{}
}

func TestRegisterAllowsInterfaceRoundTrip(t *testing.T) {
	type concreteVote struct{ Granted bool }
	Register(concreteVote{})

	in := registeredUnion{Payload: concreteVote{Granted: true}}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out registeredUnion
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, concreteVote{Granted: true}, out.Payload)
}
