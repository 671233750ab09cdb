package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Pagewatch/internal/browser"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/NordCoder/Pagewatch/internal/obs/retry"
	"github.com/NordCoder/Pagewatch/internal/pricing"
	"go.uber.org/zap"
)

// observation is the state one visit extracted.
type observation struct {
	// value is the text compared between checks; empty for visual targets.
	value string
	shot  []byte
	price *pricing.Candidate
	// ruleText is what suppression rules read when it differs from value:
	// the element or page text behind a price.
	ruleText *string
}

func (o *observation) rulesInput() string {
	if o.ruleText != nil {
		return *o.ruleText
	}
	return o.value
}

func isNavTimeout(err error) bool {
	return errors.Is(err, browser.ErrNavigateTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// navigate retries transient failures within this check. A timeout is not
// retried: it is reported as timedOut and the caller extracts whatever loaded.
func (p *Pipeline) navigate(ctx context.Context, page browser.Page, t *target.Target, log *zap.Logger) (timedOut bool, err error) {
	pol := retry.NavigationPolicy(log, attempts(t), t.Retry.Delay, func(err error) bool {
		return !isNavTimeout(err) && ctx.Err() == nil
	})
	err = retry.Do(ctx, func() error {
		navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
		defer cancel()
		return page.Navigate(navCtx, t.URL)
	}, pol)

	switch {
	case err == nil:
		return false, nil
	case ctx.Err() != nil:
		return false, &InternalError{Op: "navigate", Err: ctx.Err()}
	case isNavTimeout(err):
		log.Warn("navigation timed out, extracting what loaded", zap.Duration("timeout", p.cfg.NavigationTimeout))
		return true, nil
	default:
		return false, &NavigationError{URL: t.URL, Err: err}
	}
}

func attempts(t *target.Target) int {
	if t.Retry.Attempts < 1 {
		return 1
	}
	return t.Retry.Attempts
}

// poll calls read until it reports ok or attempts run out, sleeping delay
// between attempts. The error of the last attempt is returned.
func poll(ctx context.Context, attempts int, delay time.Duration, read func() (bool, error)) (bool, error) {
	var (
		ok  bool
		err error
	)
	for attempt := 0; attempt < attempts && !ok; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, delay); werr != nil {
				return false, werr
			}
		}
		ok, err = read()
	}
	return ok, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) extract(ctx context.Context, page browser.Page, t *target.Target, log *zap.Logger) (*observation, error) {
	switch kind := t.Kind(); kind {
	case target.KindSelectorText:
		text, err := p.selectorText(ctx, page, t.Selector, attempts(t), t.Retry.Delay)
		if err != nil {
			return nil, err
		}
		return &observation{value: text}, nil
	case target.KindFullPage:
		text, err := p.documentText(ctx, page, attempts(t), t.Retry.Delay)
		if err != nil {
			return nil, err
		}
		return &observation{value: text}, nil
	case target.KindVisual:
		shot, err := p.capture(ctx, page)
		if err != nil {
			return nil, err
		}
		return &observation{shot: shot}, nil
	case target.KindPrice:
		return p.price(ctx, page, t, log)
	default:
		return nil, &InternalError{Op: "extract", Err: fmt.Errorf("unknown kind %q", kind)}
	}
}

func (p *Pipeline) selectorText(ctx context.Context, page browser.Page, selector string, n int, delay time.Duration) (string, error) {
	var (
		found bool
		text  string
	)
	ok, err := poll(ctx, n, delay, func() (bool, error) {
		el, err := page.Text(ctx, selector)
		if err != nil {
			return false, err
		}
		found = found || el.Found
		text = strings.TrimSpace(el.Text)
		return el.Found && text != "", nil
	})
	switch {
	case ok:
		return text, nil
	case ctx.Err() != nil:
		return "", &InternalError{Op: "read element", Err: ctx.Err()}
	case found:
		return "", &ExtractionEmptyError{What: "element text", Err: err}
	case err != nil:
		return "", &InternalError{Op: "read element", Err: err}
	default:
		return "", &ElementNotFoundError{Selector: selector, Attempts: n}
	}
}

func (p *Pipeline) documentText(ctx context.Context, page browser.Page, n int, delay time.Duration) (string, error) {
	var text string
	ok, err := poll(ctx, n, delay, func() (bool, error) {
		s, err := page.DocumentText(ctx)
		if err != nil {
			return false, err
		}
		text = strings.TrimSpace(s)
		return text != "", nil
	})
	switch {
	case ok:
		return text, nil
	case ctx.Err() != nil:
		return "", &InternalError{Op: "read document", Err: ctx.Err()}
	default:
		return "", &ExtractionEmptyError{What: "page text", Err: err}
	}
}

func (p *Pipeline) capture(ctx context.Context, page browser.Page) ([]byte, error) {
	if err := sleep(ctx, p.cfg.SettleDelay); err != nil {
		return nil, &InternalError{Op: "settle", Err: err}
	}
	shot, err := page.Screenshot(ctx)
	if err != nil {
		return nil, &InternalError{Op: "screenshot", Err: err}
	}
	if len(shot) == 0 {
		return nil, &ExtractionEmptyError{What: "screenshot"}
	}
	return shot, nil
}

// price captures a screenshot for the record and picks the best candidate
// from the markup. A free-text match over the rendered element or page text
// beats a free-text match over raw markup.
func (p *Pipeline) price(ctx context.Context, page browser.Page, t *target.Target, log *zap.Logger) (*observation, error) {
	o := &observation{}
	if shot, err := p.capture(ctx, page); err != nil {
		log.Debug("price screenshot skipped", zap.Error(err))
	} else {
		o.shot = shot
	}

	ex := *p.extractor
	if t.Currency != "" {
		ex.DefaultCurrency = t.Currency
	}

	var (
		best pricing.Candidate
		text *string
	)
	ok, err := poll(ctx, attempts(t), t.Retry.Delay, func() (bool, error) {
		html, err := page.HTML(ctx)
		if err != nil {
			return false, err
		}
		c, found, err := ex.Best(html)
		if err != nil {
			return false, err
		}
		if found && c.Source != pricing.SourceFreeText {
			best = c
			return true, nil
		}
		txt, terr := p.fallbackText(ctx, page, t.Selector)
		if terr == nil {
			text = &txt
			if fc, ok := ex.FromText(txt); ok {
				best = fc
				return true, nil
			}
		}
		best = c
		return found, terr
	})
	switch {
	case ok:
	case ctx.Err() != nil:
		return nil, &InternalError{Op: "extract price", Err: ctx.Err()}
	default:
		return nil, &ExtractionEmptyError{What: "price", Err: err}
	}

	o.price = &best
	o.value = best.String()
	if len(t.Rules) > 0 {
		if text == nil {
			if txt, err := p.fallbackText(ctx, page, t.Selector); err == nil {
				text = &txt
			} else {
				log.Debug("rule text unavailable, rules read the price", zap.Error(err))
			}
		}
		o.ruleText = text
	}
	return o, nil
}

func (p *Pipeline) fallbackText(ctx context.Context, page browser.Page, selector string) (string, error) {
	if selector == "" {
		return page.DocumentText(ctx)
	}
	el, err := page.Text(ctx, selector)
	if err != nil {
		return "", err
	}
	if !el.Found {
		return page.DocumentText(ctx)
	}
	return el.Text, nil
}
