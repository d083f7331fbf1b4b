package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(KindParse, "bad calendar")
	assert.Equal(t, KindParse, KindOf(base))

	wrapped := fmt.Errorf("request failed: %w", base)
	assert.Equal(t, KindParse, KindOf(wrapped))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindFetch, "fetch %q", "school")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsKind(err, KindFetch))
	assert.Contains(t, err.Error(), "school")
	assert.Contains(t, err.Error(), "connection refused")
}
