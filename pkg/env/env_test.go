package env

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetFallsBack(t *testing.T) {
	t.Setenv("CODELAB_ENV_TEST", "  ")
	require.Equal(t, "fallback", Get("CODELAB_ENV_TEST", "fallback"))

	t.Setenv("CODELAB_ENV_TEST", "value")
	require.Equal(t, "value", Get("CODELAB_ENV_TEST", "fallback"))
}

func TestSetDefaultKeepsExisting(t *testing.T) {
	t.Setenv("CODELAB_ENV_DEFAULT", "existing")
	require.NoError(t, SetDefault("CODELAB_ENV_DEFAULT", "other"))
	require.Equal(t, "existing", os.Getenv("CODELAB_ENV_DEFAULT"))
}

func TestSetDefaultExportsWhenUnset(t *testing.T) {
	t.Setenv("CODELAB_ENV_UNSET", "")
	require.NoError(t, os.Unsetenv("CODELAB_ENV_UNSET"))
	t.Cleanup(func() { _ = os.Unsetenv("CODELAB_ENV_UNSET") })

	require.NoError(t, SetDefault("CODELAB_ENV_UNSET", "localhost:8080"))
	require.Equal(t, "localhost:8080", os.Getenv("CODELAB_ENV_UNSET"))
}
