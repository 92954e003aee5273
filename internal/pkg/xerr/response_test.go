package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{fmt.Errorf("ab12: %w", ErrNotFound), http.StatusNotFound, FileNotFoundCode},
		{fmt.Errorf("update: %w", ErrUnauthorized), http.StatusForbidden, PermissionDeniedCode},
		{&RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests, RateLimitedCode},
		{Validation("bad"), http.StatusBadRequest, ValidationFailedCode},
		{ErrInvalidTTL, http.StatusBadRequest, InvalidTTLCode},
		{ErrEmptyInput, http.StatusBadRequest, EmptyInputCode},
		{ErrFileTooLarge, http.StatusRequestEntityTooLarge, FileTooLargeCode},
		{ErrFileTypeNotAllowed, http.StatusUnsupportedMediaType, FileTypeNotAllowedCode},
		{ErrPasswordRequired, http.StatusUnauthorized, FilePasswordRequiredCode},
		{ErrPasswordIncorrect, http.StatusUnauthorized, FilePasswordIncorrectCode},
		{fmt.Errorf("x: %w", ErrBackendUnavailable), http.StatusServiceUnavailable, BackendUnavailableCode},
		{ErrStorageInconsistency, http.StatusInternalServerError, StorageInconsistencyCode},
		{NewCodeError(FileNameInvalidCode, Validation("name")), http.StatusBadRequest, FileNameInvalidCode},
		{errors.New("boom"), http.StatusInternalServerError, InternalServerErrorCode},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRespond_RateLimitSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Respond(c, &RateLimitError{RetryAfter: 1500 * time.Millisecond})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.True(t, c.IsAborted())
}

func TestRespond_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Respond(c, errors.New("dial tcp 10.0.0.1:3306: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
	assert.Contains(t, w.Body.String(), ErrInternalServer.Error())
}
