package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playcore/internal/errors"
	"github.com/zsiec/playcore/pkg/version"
)

func TestHandleVersion(t *testing.T) {
	server := newTestServer(t, &fakeController{})

	req := httptest.NewRequest("GET", "/version", nil)
	rr := httptest.NewRecorder()
	server.handleVersion(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var versionInfo version.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &versionInfo))
	assert.NotEmpty(t, versionInfo.Version)
	assert.NotEmpty(t, versionInfo.GoVersion)
}

func TestWriteJSON(t *testing.T) {
	server := newTestServer(t, &fakeController{})

	rr := httptest.NewRecorder()
	testData := map[string]string{"key": "value"}

	require.NoError(t, server.writeJSON(rr, http.StatusCreated, testData))
	assert.Equal(t, http.StatusCreated, rr.Code)

	var result map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, testData, result)
}

func TestDecodeJSON(t *testing.T) {
	server := newTestServer(t, &fakeController{})

	t.Run("empty body", func(t *testing.T) {
		var req seekRequest
		r := httptest.NewRequest("POST", "/", nil)
		assert.NoError(t, server.decodeJSON(r, &req))
	})

	t.Run("unknown field", func(t *testing.T) {
		var req seekRequest
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"sideways":true}`))
		err := server.decodeJSON(r, &req)
		require.Error(t, err)

		appErr, ok := errors.GetAppError(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrorTypeInvalidMessage, appErr.Type)
	})
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: `"1m30s"`, want: 90 * time.Second},
		{in: `1500`, want: 1500 * time.Millisecond},
		{in: `"soon"`, wantErr: true},
		{in: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}
