package authmodel_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/stretchr/testify/require"
)

func TestRequestError_IsUnauthorized(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &authmodel.RequestError{StatusCode: 401, Message: "expired"})
	require.ErrorIs(t, err, authmodel.ErrUnauthorized)
	require.Equal(t, 401, authmodel.StatusCode(err))

	err = &authmodel.RequestError{StatusCode: 500, Message: "boom", Method: "GET", Path: "/api/boom"}
	require.NotErrorIs(t, err, authmodel.ErrUnauthorized)
	require.Equal(t, "GET /api/boom failed (500): boom", err.Error())

	require.Zero(t, authmodel.StatusCode(errors.New("plain")))
}

func TestErrorResponse_Message(t *testing.T) {
	var body authmodel.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(`{"error":"first","errors":["second"]}`), &body))
	require.Equal(t, "first", body.Message())

	body = authmodel.ErrorResponse{}
	require.NoError(t, json.Unmarshal([]byte(`{"errors":[{"msg":"a"},"b",{"other":1},{"message":"c"}]}`), &body))
	require.Equal(t, "a; b; c", body.Message())

	require.Empty(t, authmodel.ErrorResponse{}.Message())
}

func TestValidate(t *testing.T) {
	require.NoError(t, authmodel.Validate(authmodel.LoginRequest{Username: "a", Password: "b"}))

	err := authmodel.Validate(authmodel.LoginRequest{})
	require.ErrorIs(t, err, authmodel.ErrInvalidInput)
	require.Equal(t, "invalid input: username is required; password is required", err.Error())

	err = authmodel.Validate(authmodel.RegisterRequest{Username: "bob", Email: "not-an-email", Password: "abc"})
	fields := authmodel.FieldErrors(err)
	require.Len(t, fields, 2)
	require.Equal(t, "email", fields[0].Field)
	require.Equal(t, "email", fields[0].Tag)
	require.Equal(t, "password must be at least 6 characters", fields[1].Message)

	require.Nil(t, authmodel.FieldErrors(errors.New("plain")))
}
