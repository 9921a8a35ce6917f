package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatNormalizesWhitespaceAndTrailingSpace(t *testing.T) {
	t.Parallel()

	got := Format(" hello  world.\nfrom\tearshot", Options{TrailingSpace: true})
	require.Equal(t, "hello world. from earshot ", got)
}

func TestFormatWithoutTrailingSpace(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello world", Format("hello world", Options{}))
}

func TestFormatEmptyInput(t *testing.T) {
	t.Parallel()

	require.Empty(t, Format(" \n\t", Options{TrailingSpace: true}))
}
