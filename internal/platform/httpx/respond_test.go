package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/workshop/internal/shared"
)

type stockRejection struct{ current int }

func (e stockRejection) Error() string { return "insufficient stock" }
func (e stockRejection) Unwrap() error { return shared.ErrConflict }
func (e stockRejection) ProblemDetails() map[string]any {
	return map[string]any{"current_quantity": e.current}
}

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NewError(shared.ErrNotFound, "part not found"), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", shared.NewError(shared.ErrValidation, "bad")), http.StatusUnprocessableEntity},
		{shared.NewError(shared.ErrUnavailable, "ledger write failed"), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRespondErrorIncludesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("checkout: %w", stockRejection{current: 3}))
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 3, body.Extensions["current_quantity"])
}

func TestDecodeAndValidate(t *testing.T) {
	type req struct {
		Quantity int `json:"quantity" validate:"gt=0"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0}`))
	var dst req
	err := DecodeAndValidate(r, &dst)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "quantity:gt")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2}`))
	require.NoError(t, DecodeAndValidate(r, &dst))
	require.Equal(t, 2, dst.Quantity)
}
