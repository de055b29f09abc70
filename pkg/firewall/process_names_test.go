package firewall

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGopsutilProcessNamer(t *testing.T) {
	namer := NewGopsutilProcessNamer(time.Minute)

	names := namer.ProcessNames(os.Getuid())
	assert.NotEmpty(t, names, "the test binary runs under the current uid")
	assert.IsIncreasing(t, names)

	// Served from cache.
	assert.Equal(t, names, namer.ProcessNames(os.Getuid()))
	assert.Empty(t, namer.ProcessNames(-42))
}
