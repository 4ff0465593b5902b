package types

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "PROFILE_404", ErrorCode("PROFILE", http.StatusNotFound))
	assert.Equal(t, "MACHINE_504", ErrorCode("MACHINE", http.StatusGatewayTimeout))
	assert.Equal(t, "MACHINE_500", ErrorCode("MACHINE", http.StatusOK))
	assert.Equal(t, "MACHINE_500", ErrorCode("MACHINE", 0))
}

func TestNewStatusError_Body(t *testing.T) {
	raw, err := json.Marshal(NewStatusError("MACHINE", http.StatusServiceUnavailable, "Machine status unavailable", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"MACHINE_503","message":"Machine status unavailable"}}`, string(raw))
}
