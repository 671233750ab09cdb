// Package browsertest provides an in-memory rendering engine for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/NordCoder/Pagewatch/internal/browser"
)

// Site is the scripted content of one URL.
type Site struct {
	// Texts maps selectors to element text; a missing key means not found.
	Texts map[string]string
	// TextSeq, when set for a selector, is consumed one value per read
	// before falling back to Texts.
	TextSeq     map[string][]string
	Document    string
	HTML        string
	Screenshot  []byte
	NavigateErr error
}

// Engine serves scripted Sites keyed by URL.
type Engine struct {
	mu    sync.Mutex
	sites map[string]*Site

	LaunchErr error
	ProbeErr  error

	Launches atomic.Int32
	Pages    atomic.Int32
	Closed   atomic.Int32
	Navs     atomic.Int32
}

func NewEngine() *Engine {
	return &Engine{sites: map[string]*Site{}}
}

func (e *Engine) SetSite(url string, s Site) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := s
	e.sites[url] = &cp
}

func (e *Engine) site(url string) (*Site, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sites[url]
	return s, ok
}

func (e *Engine) SetProbeErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProbeErr = err
}

func (e *Engine) Launch(ctx context.Context, _ browser.LaunchOptions) (browser.Browser, error) {
	e.mu.Lock()
	err := e.LaunchErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.Launches.Add(1)
	return &fakeBrowser{e: e}, nil
}

type fakeBrowser struct {
	e      *Engine
	closed atomic.Bool
}

func (b *fakeBrowser) Probe(context.Context) error {
	if b.closed.Load() {
		return errors.New("browser closed")
	}
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	return b.e.ProbeErr
}

func (b *fakeBrowser) NewPage(context.Context) (browser.Page, error) {
	if b.closed.Load() {
		return nil, errors.New("browser closed")
	}
	b.e.Pages.Add(1)
	return &Page{e: b.e}, nil
}

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

// Page is the fake tab handed out by Engine.
type Page struct {
	e   *Engine
	url string
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.e.Navs.Add(1)
	p.url = url
	if s, ok := p.e.site(url); ok && s.NavigateErr != nil {
		return s.NavigateErr
	}
	return ctx.Err()
}

func (p *Page) Text(_ context.Context, selector string) (browser.ElementText, error) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	s, ok := p.e.sites[p.url]
	if !ok {
		return browser.ElementText{}, nil
	}
	if seq := s.TextSeq[selector]; len(seq) > 0 {
		s.TextSeq[selector] = seq[1:]
		return browser.ElementText{Found: true, Text: seq[0]}, nil
	}
	t, found := s.Texts[selector]
	return browser.ElementText{Found: found, Text: t}, nil
}

func (p *Page) DocumentText(context.Context) (string, error) {
	if s, ok := p.e.site(p.url); ok {
		return s.Document, nil
	}
	return "", nil
}

func (p *Page) HTML(context.Context) (string, error) {
	if s, ok := p.e.site(p.url); ok {
		return s.HTML, nil
	}
	return "<html></html>", nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	if s, ok := p.e.site(p.url); ok && s.Screenshot != nil {
		return s.Screenshot, nil
	}
	return nil, errors.New("nothing to capture")
}

func (p *Page) DismissOverlays(context.Context) error { return nil }

func (p *Page) Reset(context.Context) error {
	p.url = "about:blank"
	return nil
}

func (p *Page) Close() error {
	p.e.Closed.Add(1)
	return nil
}
