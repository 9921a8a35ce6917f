package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorSnapshotJoinsFinalsInOrder(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.AppendFinal("Hello")
	acc.AppendFinal("world")

	require.Equal(t, "Hello world", acc.Snapshot())
	require.Equal(t, []string{"Hello", "world"}, acc.Finalized())
}

func TestAccumulatorInterimIsReplacedNotAppended(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.AppendFinal("Hello")
	acc.SetInterim("wor")
	acc.SetInterim("world")

	require.Equal(t, "world", acc.Interim())
	require.Equal(t, "Hello world", acc.Snapshot())

	acc.ClearInterim()
	require.Equal(t, "Hello", acc.Snapshot())
}

func TestAccumulatorKeepsDuplicatesAndArrivalOrder(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	for _, segment := range []string{"b", "a", "a", "c"} {
		acc.AppendFinal(segment)
	}

	require.Equal(t, "b a a c", acc.Snapshot())
	require.Equal(t, 4, acc.Len())
}

func TestAccumulatorSnapshotTrimsEdges(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	require.Empty(t, acc.Snapshot())

	acc.SetInterim("only interim ")
	require.Equal(t, "only interim", acc.Snapshot())
}

func TestAccumulatorFinalizedReturnsCopy(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.AppendFinal("keep")
	got := acc.Finalized()
	got[0] = "mutated"

	require.Equal(t, "keep", acc.Snapshot())
}

func TestAccumulatorReset(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.AppendFinal("old")
	acc.SetInterim("pending")
	acc.Reset()

	require.Empty(t, acc.Snapshot())
	require.Zero(t, acc.Len())
	require.Empty(t, acc.Interim())
}
