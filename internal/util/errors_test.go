package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFoundf("Proposal not found"), http.StatusNotFound},
		{Forbiddenf("Only the author"), http.StatusForbidden},
		{Invalidf("Text required"), http.StatusBadRequest},
		{ErrInvalidCredentials, http.StatusBadRequest},
		{InvalidStatef("draft", "nope"), http.StatusConflict},
		{ThresholdUnmet(1, 2), http.StatusConflict},
		{ErrConcurrentUpdate, http.StatusConflict},
		{ErrUsernameTaken, http.StatusConflict},
		{ErrLessonStoreSeeded, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", ErrForbidden), http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRuleErrorDetails(t *testing.T) {
	err := ThresholdUnmet(1, 3)
	assert.Equal(t, "Cannot open for voting. Only 1/3 admins have approved.", err.Error())
	assert.Equal(t, map[string]interface{}{"approvalCount": 1, "totalAdmins": 3}, Details(err))

	assert.Nil(t, Details(errors.New("plain")))
	assert.Equal(t, "open", Details(InvalidStatef("open", "x"))["status"])
}

func TestHasAllowedExtension(t *testing.T) {
	assert.True(t, HasAllowedExtension("a.JPG", AllowedImageExtensions))
	assert.False(t, HasAllowedExtension("a.svg", AllowedImageExtensions))
	assert.False(t, HasAllowedExtension("noext", AllowedImageExtensions))
}
