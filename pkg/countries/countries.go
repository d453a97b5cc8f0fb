package countries

import (
	"sort"
	"sync"

	"github.com/biter777/countries"
)

// Country is one entry of the country list
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var (
	once sync.Once
	list []Country
)

// List returns every ISO 3166-1 country sorted by English name.
// The returned slice is a copy and may be modified by the caller.
func List() []Country {
	once.Do(func() {
		list = build(countries.All())
	})
	out := make([]Country, len(list))
	copy(out, list)
	return out
}

func build(codes []countries.CountryCode) []Country {
	seen := make(map[string]struct{}, len(codes))
	out := make([]Country, 0, len(codes))
	for _, c := range codes {
		code := c.Alpha2()
		if len(code) != 2 {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, Country{Code: code, Name: c.String()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Code < out[j].Code
		}
		return out[i].Name < out[j].Name
	})
	return out
}
