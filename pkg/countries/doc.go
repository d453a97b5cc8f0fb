// Package countries exposes the ISO 3166-1 country list served by the countries endpoint.
package countries
