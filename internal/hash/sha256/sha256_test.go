package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		hasher *Hasher
		want   string
	}{
		{name: "full", hasher: New(), want: helloDigest},
		{name: "short", hasher: NewShort(12), want: helloDigest[:12]},
		{name: "oversized", hasher: NewShort(100), want: helloDigest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.hasher.Hash([]byte("hello world"))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
