package cpuinfo

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	description := Describe()
	assert.True(t, strings.HasPrefix(description, "CPU "+runtime.GOARCH))
	if runtime.GOARCH == "amd64" {
		assert.Contains(t, Features(), "sse2", "every amd64 CPU has SSE2")
	}
}
