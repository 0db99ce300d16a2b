package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail bool
	}{
		{fmt.Errorf("%w: material M", ErrNotFound), http.StatusNotFound, true},
		{fmt.Errorf("%w: key", ErrDuplicate), http.StatusConflict, true},
		{fmt.Errorf("%w: quantity", ErrValidation), http.StatusBadRequest, true},
		{fmt.Errorf("%w: dial tcp", ErrUnavailable), http.StatusServiceUnavailable, false},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
		if tc.detail {
			require.Equal(t, tc.err.Error(), problem.Detail)
		} else {
			require.Empty(t, problem.Detail)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Quantity float64 `json:"quantity"`
	}
	decode := func(payload string) (body, error) {
		var out body
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		return out, DecodeJSON(req, &out)
	}

	out, err := decode(`{"quantity": 4.5}`)
	require.NoError(t, err)
	require.Equal(t, 4.5, out.Quantity)

	_, err = decode(``)
	require.ErrorIs(t, err, io.EOF)

	_, err = decode(`{"quantity": 1, "price": 2}`)
	require.Error(t, err)

	_, err = decode(`{"quantity": 1}{"quantity": 2}`)
	require.Error(t, err)
}
