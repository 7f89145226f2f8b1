package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisable(t *testing.T) {
	Disable()
	assert.Equal(t, "plain", ColorPrompt("plain"))
	assert.Equal(t, "plain", ColorError("plain"))
	assert.Equal(t, "plain", ColorResponse("plain"))
}
