package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Validation:         http.StatusBadRequest,
		EngineUnavailable:  http.StatusServiceUnavailable,
		ModelNotAvailable:  http.StatusBadRequest,
		ModelNotInstalled:  http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		AlreadyExists:      http.StatusBadRequest,
		LastModelProtected: http.StatusBadRequest,
		NothingToExport:    http.StatusBadRequest,
		ImportFormat:       http.StatusBadRequest,
		TooLarge:           http.StatusRequestEntityTooLarge,
		RateLimited:        http.StatusTooManyRequests,
		Internal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind.String())
	}
}

func TestIsThroughWrapping(t *testing.T) {
	cause := errors.New("exit status 1")
	err := fmt.Errorf("listing: %w", Wrap(EngineUnavailable, "Ollama error", "unreachable", cause))

	assert.True(t, Is(err, EngineUnavailable))
	assert.False(t, Is(err, NotFound))
	assert.ErrorIs(t, err, cause)
	assert.False(t, Is(errors.New("plain"), Internal))
}
