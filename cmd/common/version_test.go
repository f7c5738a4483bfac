package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, ProjectVersion, info.Version)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
	assert.Contains(t, info.Architecture, "/")
	assert.True(t, strings.HasPrefix(GetFullVersion(), ProjectVersion+"-"))
}
