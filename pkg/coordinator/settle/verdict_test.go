package settle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stakegate/stakegate/pkg/errkind"
)

func TestVerdictFromScore_Threshold(t *testing.T) {
	v, err := VerdictFromScore(PassThreshold)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, v.Status)

	v, err = VerdictFromScore(PassThreshold - 1)
	require.NoError(t, err)
	require.Equal(t, VerdictFail, v.Status)

	v, err = VerdictFromScore(0)
	require.NoError(t, err)
	require.Equal(t, VerdictFail, v.Status)

	v, err = VerdictFromScore(100)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, v.Status)
}

func TestNewVerdict_Validation(t *testing.T) {
	_, err := NewVerdict(101, VerdictPass)
	require.True(t, errkind.Is(err, errkind.InvalidVerdict))

	_, err = NewVerdict(50, "maybe")
	require.True(t, errkind.Is(err, errkind.InvalidVerdict))

	// the status is taken as-is: a failing score with a pass status is the
	// evaluator's call, not ours
	v, err := NewVerdict(10, VerdictPass)
	require.NoError(t, err)
	require.Equal(t, VerdictPass, v.Status)
}
