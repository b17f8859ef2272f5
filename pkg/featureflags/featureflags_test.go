package featureflags

import (
	"context"
	"testing"

	"testerhub-engagement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredClientUsesFallback(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.Enabled(context.Background(), "tester-1", AllowRejoin, true))
	require.False(t, ff.Enabled(context.Background(), "tester-1", AllowRejoin, false))
}

func TestStatic(t *testing.T) {
	ff := Static{AllowRejoin: false}

	require.False(t, ff.Enabled(context.Background(), "tester-1", AllowRejoin, true))
	require.True(t, ff.Enabled(context.Background(), "tester-1", "unknown", true))
}
