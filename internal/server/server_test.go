package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/infra"
	"github.com/congo-pay/wallet_ledger/internal/logging"
)

func TestServerRendersUnknownRouteAsEnvelope(t *testing.T) {
	cfg := config.Config{AppEnv: "development", StoreBackend: config.StoreMemory}
	backends, err := infra.OpenBackends(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)

	srv, err := New(cfg, backends, nil, logging.Discard())
	require.NoError(t, err)

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "InvalidRequest", body.Error.Kind)
}
