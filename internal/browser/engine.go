package browser

import (
	"context"
	"errors"
)

var (
	ErrUnavailable     = errors.New("rendering engine unavailable")
	ErrPoolClosed      = errors.New("session pool closed")
	ErrNavigateTimeout = errors.New("navigation timed out")
)

// Engine launches the underlying rendering resource.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

type LaunchOptions struct {
	ProxyServer string
}

// Browser is one launched rendering context shared by all pages.
type Browser interface {
	// Probe is a lightweight call that fails fast when the handle is stale.
	Probe(ctx context.Context) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// ElementText is the outcome of reading a selector.
type ElementText struct {
	Found bool
	Text  string
}

// Page is the capability contract the check pipeline needs: navigate, read
// DOM state, capture a raster image.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Text(ctx context.Context, selector string) (ElementText, error)
	DocumentText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	DismissOverlays(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}
