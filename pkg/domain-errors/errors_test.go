package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeLookup(t *testing.T) {
	t.Run("outermost domain error wins", func(t *testing.T) {
		inner := New(CodeNotFound, "report not found")
		outer := Wrap(inner, CodeTransferFailed, "transfer to author failed")

		assert.True(t, HasCode(outer, CodeTransferFailed))
		assert.False(t, HasCode(outer, CodeNotFound))
		assert.True(t, HasCode(inner, CodeNotFound))
	})

	t.Run("found through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("purchase: %w", New(CodeAlreadyPurchased, "already purchased"))
		assert.True(t, Is(err, CodeAlreadyPurchased))
		assert.Equal(t, "already purchased", MessageOf(err))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		_, ok := CodeOf(errors.New("boom"))
		assert.False(t, ok)
		assert.False(t, HasCode(nil, CodeInternal))
	})

	t.Run("wrap nil is nil", func(t *testing.T) {
		require.NoError(t, Wrap(nil, CodeInternal, "never"))
	})

	t.Run("cause stays reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeInternal, "failed to load report")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to load report: connection reset", err.Error())
	})
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthenticated:     http.StatusUnauthorized,
		CodeUnauthorized:        http.StatusForbidden,
		CodeOwnershipViolation:  http.StatusForbidden,
		CodeNoAccess:            http.StatusForbidden,
		CodeNotFound:            http.StatusNotFound,
		CodeInvalidInput:        http.StatusBadRequest,
		CodeInvalidDistribution: http.StatusBadRequest,
		CodePriceBelowMinimum:   http.StatusUnprocessableEntity,
		CodeInsufficientPayment: http.StatusPaymentRequired,
		CodeAlreadyPurchased:    http.StatusConflict,
		CodeNotVerified:         http.StatusConflict,
		CodeReentrantCall:       http.StatusConflict,
		CodeTransferFailed:      http.StatusBadGateway,
		CodeInternal:            http.StatusInternalServerError,
		Code("unknown"):         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
