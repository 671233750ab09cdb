// Package pricing finds the most likely current price on a product page.
package pricing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/jsonquery"
	"github.com/shopspring/decimal"
)

// Source tags where a candidate came from.
type Source string

const (
	SourceStructuredData Source = "structured_data"
	SourceMetaTag        Source = "meta_tag"
	SourceMicrodata      Source = "microdata"
	SourceDOMHeuristic   Source = "dom_heuristic"
	SourceFreeText       Source = "free_text"
)

// tiers, most trusted first
const (
	tierStructured = iota
	tierMeta
	tierMicrodata
	tierDOM
	tierFreeText
)

const tierWidth = 100

// Candidate is one possible price. Lower Priority is more trusted.
type Candidate struct {
	Price    decimal.Decimal
	Currency string
	Source   Source
	Raw      string
	Priority int
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s", c.Price.String(), c.Currency)
}

// DefaultSelectors are common marketplace price locations.
var DefaultSelectors = []string{
	"#corePrice_feature_div .a-offscreen",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	".a-price .a-offscreen",
	".x-price-primary",
	"[data-testid=\"x-price-primary\"]",
	"[data-testid=\"price\"]",
	"[data-qa=\"product-price\"]",
	".product-price",
	".price-current",
	".price__current",
	".product__price",
	".woocommerce-Price-amount",
	".price",
}

var (
	// currency-adjacent amounts in visible text, prefix or suffix form
	freeTextRe = regexp.MustCompile(
		`(?:US\$|R\$|C\$|A\$|[$€£¥₹₽₴₺₩]|\b(?:USD|EUR|GBP|JPY|INR|RUB|BRL|CAD|AUD|CHF|PLN|UAH)\b)\s?\d[\d.,]*(?:\s?[kKmM]\b)?` +
			`|\d[\d.,]*\s?(?:[€£₽₴₺]|zł|\b(?:USD|EUR|GBP|RUB|PLN|CHF|UAH)\b)`)
	wsRe = regexp.MustCompile(`\s+`)
)

type Extractor struct {
	DefaultCurrency string
	Selectors       []string
	// MaxDepth bounds the structured data walk.
	MaxDepth int
}

func New(defaultCurrency string, selectors []string) *Extractor {
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	return &Extractor{DefaultCurrency: defaultCurrency, Selectors: selectors, MaxDepth: 12}
}

// Extract returns the candidates of the first tier that yields any, best
// first.
func (e *Extractor) Extract(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	strategies := []func(*goquery.Document) []Candidate{
		e.structuredData,
		e.metaTags,
		e.microdata,
		e.marketplace,
		e.visibleText,
	}
	for _, s := range strategies {
		if c := s(doc); len(c) > 0 {
			sortCandidates(c)
			return c, nil
		}
	}
	return nil, nil
}

// Best is Extract reduced to the top candidate.
func (e *Extractor) Best(html string) (Candidate, bool, error) {
	c, err := e.Extract(html)
	if err != nil || len(c) == 0 {
		return Candidate{}, false, err
	}
	return c[0], true, nil
}

// FromText pattern-matches prices in plain text.
func (e *Extractor) FromText(text string) (Candidate, bool) {
	c := e.freeText(text)
	if len(c) == 0 {
		return Candidate{}, false
	}
	sortCandidates(c)
	return c[0], true
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Priority < c[j].Priority })
}

func (e *Extractor) candidate(raw, currency string, src Source, priority int) (Candidate, bool) {
	parse := ParsePrice
	if src == SourceStructuredData {
		parse = parseMachinePrice
	}
	price, cur, ok := parse(raw, e.DefaultCurrency)
	if !ok || !price.IsPositive() {
		return Candidate{}, false
	}
	if currency != "" {
		cur = strings.ToUpper(strings.TrimSpace(currency))
	}
	return Candidate{Price: price, Currency: cur, Source: src, Raw: strings.TrimSpace(raw), Priority: priority}, true
}

// structured product data, ranked inside the tier:
// offer price, price specification, aggregate high==low, aggregate low.
const (
	rankOfferPrice = iota
	rankPriceSpec
	rankAggregateFixed
	rankAggregateLow
)

func (e *Extractor) structuredData(doc *goquery.Document) []Candidate {
	var out []Candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		root, err := jsonquery.Parse(strings.NewReader(s.Text()))
		if err != nil {
			return
		}
		e.walkLD(root, 0, &out)
	})
	return out
}

func (e *Extractor) walkLD(n *jsonquery.Node, depth int, out *[]Candidate) {
	if n == nil || depth > e.MaxDepth {
		return
	}
	if isObject(n) {
		e.offerCandidates(n, out)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != jsonquery.ElementNode || c.Data == "priceSpecification" {
			continue
		}
		e.walkLD(c, depth+1, out)
	}
}

func (e *Extractor) offerCandidates(n *jsonquery.Node, out *[]Candidate) {
	add := func(raw, cur string, rank int) {
		if c, ok := e.candidate(raw, cur, SourceStructuredData, tierStructured*tierWidth+rank); ok {
			*out = append(*out, c)
		}
	}
	cur := scalar(n, "priceCurrency")

	if p := scalar(n, "price"); p != "" {
		add(p, cur, rankOfferPrice)
	}

	if spec := child(n, "priceSpecification"); spec != nil {
		for _, o := range objects(spec) {
			if p := scalar(o, "price"); p != "" {
				c := scalar(o, "priceCurrency")
				if c == "" {
					c = cur
				}
				add(p, c, rankPriceSpec)
			}
		}
	}

	low, high := scalar(n, "lowPrice"), scalar(n, "highPrice")
	if low != "" && high != "" {
		l, _, okL := parseMachinePrice(low, e.DefaultCurrency)
		h, _, okH := parseMachinePrice(high, e.DefaultCurrency)
		if okL && okH && l.Equal(h) {
			add(low, cur, rankAggregateFixed)
			return
		}
	}
	if low != "" {
		add(low, cur, rankAggregateLow)
	}
}

// isObject reports whether n is a JSON object, i.e. its children are keyed.
func isObject(n *jsonquery.Node) bool {
	c := n.FirstChild
	return c != nil && c.Type == jsonquery.ElementNode && c.Data != ""
}

func child(n *jsonquery.Node, key string) *jsonquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == jsonquery.ElementNode && c.Data == key {
			return c
		}
	}
	return nil
}

func scalar(n *jsonquery.Node, key string) string {
	c := child(n, key)
	if c == nil || isObject(c) {
		return ""
	}
	return strings.TrimSpace(c.InnerText())
}

// objects returns n itself when it holds an object, or its array items that do.
func objects(n *jsonquery.Node) []*jsonquery.Node {
	if isObject(n) {
		return []*jsonquery.Node{n}
	}
	var out []*jsonquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isObject(c) {
			out = append(out, c)
		}
	}
	return out
}

var metaPrice = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`meta[name="product:price:amount"]`,
	`meta[name="twitter:data1"]`,
}

var metaCurrency = []string{
	`meta[property="product:price:currency"]`,
	`meta[property="og:price:currency"]`,
	`meta[name="product:price:currency"]`,
}

func (e *Extractor) metaTags(doc *goquery.Document) []Candidate {
	cur := ""
	for _, sel := range metaCurrency {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			cur = v
			break
		}
	}
	var out []Candidate
	for i, sel := range metaPrice {
		v, ok := doc.Find(sel).First().Attr("content")
		if !ok {
			continue
		}
		if c, ok := e.candidate(v, cur, SourceMetaTag, tierMeta*tierWidth+i); ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Extractor) microdata(doc *goquery.Document) []Candidate {
	cur := ""
	doc.Find(`[itemprop="priceCurrency"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		cur = attrOrText(s)
		return cur == ""
	})

	var out []Candidate
	doc.Find(`[itemprop="price"]`).Each(func(i int, s *goquery.Selection) {
		if c, ok := e.candidate(attrOrText(s), cur, SourceMicrodata, tierMicrodata*tierWidth+i); ok {
			out = append(out, c)
		}
	})
	return out
}

func attrOrText(s *goquery.Selection) string {
	if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

func (e *Extractor) marketplace(doc *goquery.Document) []Candidate {
	var out []Candidate
	for i, sel := range e.Selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		text := wsRe.ReplaceAllString(attrOrText(s), " ")
		if c, ok := e.candidate(text, "", SourceDOMHeuristic, tierDOM*tierWidth+i); ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Extractor) visibleText(doc *goquery.Document) []Candidate {
	body := doc.Find("body").Clone()
	body.Find("script,style,noscript,template").Remove()
	return e.freeText(body.Text())
}

func (e *Extractor) freeText(text string) []Candidate {
	text = wsRe.ReplaceAllString(text, " ")
	var out []Candidate
	for i, m := range freeTextRe.FindAllString(text, 64) {
		if c, ok := e.candidate(m, "", SourceFreeText, tierFreeText*tierWidth+i); ok {
			out = append(out, c)
		}
	}
	return out
}
