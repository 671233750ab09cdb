package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

type ChromeConfig struct {
	ExecPath    string
	Headless    bool
	NoSandbox   bool
	UserAgent   string
	WindowW     int
	WindowH     int
	LaunchWait  time.Duration
	ScreenshotQ int
}

// ChromeEngine drives a headless Chrome through the DevTools protocol.
type ChromeEngine struct {
	cfg ChromeConfig
	log *zap.Logger
}

func NewChromeEngine(cfg ChromeConfig, log *zap.Logger) *ChromeEngine {
	if cfg.WindowW == 0 || cfg.WindowH == 0 {
		// desktop view, some pages hide content on mobile widths
		cfg.WindowW, cfg.WindowH = 1920, 1080
	}
	if cfg.LaunchWait <= 0 {
		cfg.LaunchWait = 20 * time.Second
	}
	if cfg.ScreenshotQ <= 0 || cfg.ScreenshotQ > 100 {
		cfg.ScreenshotQ = 100
	}
	return &ChromeEngine{cfg: cfg, log: log.With(zap.String("component", "browser.chrome"))}
}

func (e *ChromeEngine) Launch(ctx context.Context, lo LaunchOptions) (Browser, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(e.cfg.WindowW, e.cfg.WindowH),
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}
	if e.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if e.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.cfg.UserAgent))
	}
	if lo.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(lo.ProxyServer))
	}

	// the browser outlives the launching request
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(browserCtx, e.cfg.LaunchWait)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(startCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	e.log.Info("chrome launched", zap.Bool("proxy", lo.ProxyServer != ""))

	return &chromeBrowser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		quality:       e.cfg.ScreenshotQ,
	}, nil
}

type chromeBrowser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	quality       int
}

func (b *chromeBrowser) Probe(ctx context.Context) error {
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("browser context: %w", err)
	}
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return errors.New("browser handle missing")
	}
	_, _, _, _, _, err := browser.GetVersion().Do(cdp.WithExecutor(ctx, c.Browser))
	return err
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: cancel, quality: b.quality}
	if err := p.run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancelBrowser()
	b.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	quality int
}

// run executes actions on the tab bounded by the caller's deadline and
// cancellation without tearing the tab down.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, chromedp.Navigate(url))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNavigateTimeout, url)
	}
	return err
}

func (p *chromePage) Text(ctx context.Context, selector string) (ElementText, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return ElementText{}, err
	}
	expr := fmt.Sprintf(`(() => {
  let el = null;
  try { el = document.querySelector(%s); } catch (e) { return {found: false, text: ""}; }
  if (!el) return {found: false, text: ""};
  return {found: true, text: (el.innerText || el.textContent || "").trim()};
})()`, sel)

	var out struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := p.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return ElementText{}, err
	}
	return ElementText{Found: out.Found, Text: out.Text}, nil
}

func (p *chromePage) DocumentText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText.trim() : ""`, &text))
	return text, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var body string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return body, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, p.quality)); err != nil {
		return nil, err
	}
	return buf, nil
}

// consent buttons seen on common CMPs, clicked best-effort
const dismissOverlaysJS = `(() => {
  const selectors = [
    '#onetrust-accept-btn-handler',
    '#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll',
    '#didomi-notice-agree-button',
    '.fc-cta-consent',
    'button[aria-label="Accept all"]',
    'button[aria-label="Accept cookies"]',
    '[data-testid="uc-accept-all-button"]',
    '.cc-allow',
    '.cookie-accept',
  ];
  let clicked = 0;
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (el) { el.click(); clicked++; }
  }
  const words = ['accept all', 'accept', 'agree', 'alle akzeptieren', 'tout accepter', 'aceptar'];
  for (const b of document.querySelectorAll('button')) {
    const t = (b.innerText || '').trim().toLowerCase();
    if (t && t.length < 30 && words.includes(t)) { b.click(); clicked++; break; }
  }
  return clicked;
})()`

func (p *chromePage) DismissOverlays(ctx context.Context) error {
	var clicked int
	return p.run(ctx, chromedp.Evaluate(dismissOverlaysJS, &clicked))
}

func (p *chromePage) Reset(ctx context.Context) error {
	return p.run(ctx, chromedp.Navigate("about:blank"))
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
