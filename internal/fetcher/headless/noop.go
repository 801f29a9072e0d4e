package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/scrape-gateway/internal/scrape"
)

// ErrDisabled is returned when JavaScript rendering is turned off on the agent.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop implements scrape.Fetcher for agents started without a browser.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ scrape.Request) (scrape.Response, error) {
	return scrape.Response{}, ErrDisabled
}
