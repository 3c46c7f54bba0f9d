package authcore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/schoolnotes/authcore/token"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindInternal},
		{"unknown", errors.New("boom"), KindInternal},
		{"validation", invalidField("email", "required"), KindValidation},
		{"credentials", clientError("X", ErrInvalidCredentials), KindUnauthorized},
		{"token invalid from token package", fmt.Errorf("%w: bad sig", token.ErrInvalid), KindUnauthorized},
		{"token expired", token.ErrExpired, KindUnauthorized},
		{"wrong kind", ErrWrongTokenKind, KindUnauthorized},
		{"login throttled", ErrLoginThrottled, KindUnauthorized},
		{"refresh throttled", ErrRefreshThrottled, KindUnauthorized},
		{"register throttled", ErrRegisterThrottled, KindUnauthorized},
		{"suspended", ErrAccountSuspended, KindForbidden},
		{"insufficient role", ErrInsufficientRole, KindForbidden},
		{"access denied", fmt.Errorf("get: %w", ErrAccessDenied), KindForbidden},
		{"exists", ErrAccountExists, KindAlreadyExists},
		{"taken", ErrIdentifierTaken, KindAlreadyExists},
		{"not found", ErrAccountNotFound, KindNotFound},
		{"corrupt", corruptAccountError(&Account{Role: "x"}), KindInternal},
		{"unsupported", ErrUnsupported, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInternalErrorWinsOverWrappedSentinels(t *testing.T) {
	// A directory that wraps ErrAccountNotFound inside an I/O failure must
	// not leak as NotFound.
	err := internalError("DIRECTORY_LOOKUP", "login", fmt.Errorf("scan: %w", ErrAccountNotFound))

	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	oopsErr, ok := oops.AsOops(err)
	assert.True(t, ok)
	assert.Equal(t, "DIRECTORY_LOOKUP", oopsErr.Code())
	assert.Equal(t, "login", oopsErr.Context()["operation"])
}

func TestValidationErrorMessage(t *testing.T) {
	err := invalidField("username", "must not contain '@'")
	assert.Equal(t, "username: must not contain '@'", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "already_exists", KindAlreadyExists.String())
	assert.Equal(t, "internal", Kind(99).String())
}
