package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("RAMP_TEST_PASS", "  s3cret ")
	src := NewSource("RAMP_TEST_PASS", "")
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "  s3cret ", value)

	t.Setenv("RAMP_TEST_PASS", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "  s3cret ", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("RAMP_TEST_PASS", "   ")
	_, err := NewSource("RAMP_TEST_PASS", "operator keystore").Get()
	require.ErrorContains(t, err, "RAMP_TEST_PASS is set but empty")
}
