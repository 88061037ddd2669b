package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := Normalize([]string{"10.0.0.1:8080", " ", "socks5://10.0.0.2:1080"})
	require.Equal(t, []string{"http://10.0.0.1:8080", "socks5://10.0.0.2:1080"}, got)
}

func TestPick(t *testing.T) {
	t.Parallel()

	require.Empty(t, Pick(nil))
	require.Equal(t, "http://a:1", Pick([]string{"a:1"}))

	last := func(n int) int { return n - 1 }
	require.Equal(t, "http://b:2", pickWith([]string{"a:1", "b:2"}, last))

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[Pick([]string{"a:1", "b:2"})] = true
	}
	require.Len(t, seen, 2)
}

func TestParse(t *testing.T) {
	t.Parallel()

	u, err := Parse("")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = Parse("http://10.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:8080", u.Host)

	_, err = Parse("not a proxy")
	require.Error(t, err)
}
