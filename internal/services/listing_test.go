package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/ports"
)

func TestResolve_TwoStepLookup(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets/0xcond", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"condition_id": "0xcond",
			"closed": false,
			"tokens": [
				{"token_id": "tok-up", "outcome": "Up"},
				{"token_id": "tok-down", "outcome": "Down"}
			]
		}`))
	}))
	defer clob.Close()

	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		require.Equal(t, "btc-updown-15m-1700000100", r.URL.Query().Get("slug"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"conditionId": "0xcond", "question": "BTC up or down?", "slug": "btc-updown-15m-1700000100"}]`))
	}))
	defer gamma.Close()

	c := NewListingClient(gamma.URL, clob.URL)
	m, err := c.Resolve(context.Background(), "btc-updown-15m-1700000100")
	require.NoError(t, err)

	assert.Equal(t, "btc", m.Name)
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "tok-up", m.UpAssetID)
	assert.Equal(t, "tok-down", m.DownAssetID)
	assert.Equal(t, 0, m.UpOutcomeIndex)
	assert.Equal(t, 1, m.DownOutcomeIndex)
	assert.Equal(t, int64(1700000100), m.Timestamp)
}

func TestResolve_NotListedWhenGammaEmpty(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer gamma.Close()

	c := NewListingClient(gamma.URL, gamma.URL)
	_, err := c.Resolve(context.Background(), "btc-updown-15m-9999999999")
	assert.ErrorIs(t, err, ports.ErrWindowNotListed)
}

func TestResolve_IncompleteTokens(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/markets" {
			_, _ = w.Write([]byte(`[{"conditionId": "0xcond"}]`))
			return
		}
		// 只有一侧 token
		_, _ = w.Write([]byte(`{"condition_id": "0xcond", "tokens": [{"token_id": "tok-up", "outcome": "Up"}]}`))
	}))
	defer gamma.Close()

	c := NewListingClient(gamma.URL, gamma.URL)
	_, err := c.Resolve(context.Background(), "btc-updown-15m-1700000100")
	assert.Error(t, err)
}

func TestPeriodStartFromSlug(t *testing.T) {
	assert.Equal(t, int64(1700000100), periodStartFromSlug("btc-updown-15m-1700000100"))
	assert.Equal(t, int64(0), periodStartFromSlug("btc-updown-15m-abc"))
	assert.Equal(t, int64(0), periodStartFromSlug("nodash"))
}
