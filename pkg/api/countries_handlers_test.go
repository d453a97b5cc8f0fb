package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/schoolbilling/pkg/countries"
)

func TestListCountries(t *testing.T) {
	s := newTestServer(t, &mockBillingService{})

	t.Run("requires authentication", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(s, "GET", "/api/v1/countries", "", "").Code)
	})

	t.Run("any authenticated user", func(t *testing.T) {
		w := do(s, "GET", "/api/v1/countries", "staff", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got []map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, len(countries.List()))
		for _, entry := range got {
			assert.Len(t, entry, 2)
			assert.NotEmpty(t, entry["code"])
			assert.NotEmpty(t, entry["name"])
		}
	})
}
