package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestWriteErrorRendersAppError(t *testing.T) {
	cause := errors.New("get tab 7: tab not found")
	rr := httptest.NewRecorder()
	WriteError(rr, NewAppError("TAB_NOT_FOUND", "", http.StatusNotFound, cause))

	require.Equal(t, http.StatusNotFound, rr.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "TAB_NOT_FOUND", env.Error.Code)
	require.Equal(t, "get tab 7: tab not found", env.Error.Message)
}

func TestWriteErrorFindsWrappedAppError(t *testing.T) {
	app := NewAppError("EMPTY_CART", "", http.StatusUnprocessableEntity, errors.New("cart has no items"))
	wrapped := fmt.Errorf("checkout tab 1: %w", app)

	rr := httptest.NewRecorder()
	WriteError(rr, wrapped)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "EMPTY_CART", env.Error.Code)
}

func TestWriteErrorFallsBackToInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("snapshot encode failed"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "INTERNAL", env.Error.Code)
	require.Equal(t, "snapshot encode failed", env.Error.Message)
}

func TestAppErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("line not found in cart")
	app := NewAppError("LINE_NOT_FOUND", "", http.StatusNotFound, cause)
	require.ErrorIs(t, app, cause)
	require.Equal(t, cause.Error(), app.Error())
}
