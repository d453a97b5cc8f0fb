package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/schoolbilling/pkg/countries"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
	"github.com/platinummonkey/schoolbilling/pkg/middleware"
)

// CountryHandlers serves the country reference list
type CountryHandlers struct{}

// NewCountryHandlers creates a new CountryHandlers
func NewCountryHandlers() *CountryHandlers {
	return &CountryHandlers{}
}

// RegisterRoutes registers country routes on an authenticated router
func (h *CountryHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/countries", middleware.RequireAuthenticated(http.HandlerFunc(h.ListCountries))).Methods("GET")
}

// ListCountries returns every ISO 3166-1 country as {code, name}
func (h *CountryHandlers) ListCountries(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, countries.List())
}
