package page

import (
	"errors"
	"fmt"
)

// ErrUnknownBrand is returned when a brand key has no matching Brand.
var ErrUnknownBrand = errors.New("unknown brand")

// Brand is the fixed copy of one variant of the starter page.
type Brand struct {
	Key     string
	Title   string
	Message string
	Footer  string
}

var (
	Whop = Brand{
		Key:     "whop",
		Title:   "Whop Creator MVP",
		Message: "Welcome to your Whop creator application!",
		Footer:  "Powered by Whop",
	}
	CreatorEconomy = Brand{
		Key:     "creator-economy",
		Title:   "Creator Economy MVP",
		Message: "Welcome to your creator economy application!",
		Footer:  "Built for the creator economy",
	}
)

// Brands lists every known brand, default first.
func Brands() []Brand {
	return []Brand{Whop, CreatorEconomy}
}

// LookupBrand returns the brand registered under key.
func LookupBrand(key string) (Brand, error) {
	for _, b := range Brands() {
		if b.Key == key {
			return b, nil
		}
	}
	return Brand{}, fmt.Errorf("%w: %q", ErrUnknownBrand, key)
}
