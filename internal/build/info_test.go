package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, GoVersion, info.GoVersion)
	assert.Contains(t, info.String(), "agentpay "+info.Version)
	assert.NotContains(t, info.String(), "commit:")
}
