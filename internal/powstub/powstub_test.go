package powstub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
)

func TestGeneratedNonceValidatesAtSameDifficulty(t *testing.T) {
	p := New(8)
	root := ledgerid.BlockHash{1, 2, 3}
	nonce := p.Generate(root)
	require.True(t, p.Validate(root, nonce))
}

func TestZeroDifficultyAcceptsAnyNonce(t *testing.T) {
	p := New(0)
	require.True(t, p.Validate(ledgerid.BlockHash{}, pow.Nonce{}))
}
