package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ldOffer = `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Product","name":"Kettle",
 "offers":{"@type":"Offer","price":"49.90","priceCurrency":"EUR"}}
</script>
<meta property="product:price:amount" content="59.00">
</head><body><span class="price">$10</span></body></html>`

func TestExtract_StructuredDataWins(t *testing.T) {
	e := New("USD", nil)
	c, ok, err := e.Best(ldOffer)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "49.9", c.Price.String())
	assert.Equal(t, "EUR", c.Currency)
	assert.Equal(t, SourceStructuredData, c.Source)
}

func TestExtract_StructuredDataRanking(t *testing.T) {
	page := `<script type="application/ld+json">
[
 {"@type":"AggregateOffer","lowPrice":5,"highPrice":30,"priceCurrency":"GBP"},
 {"@type":"AggregateOffer","lowPrice":12,"highPrice":12,"priceCurrency":"GBP"},
 {"@type":"Offer","priceSpecification":[{"@type":"UnitPriceSpecification","price":"20.00","priceCurrency":"GBP"}]}
]
</script>`
	e := New("USD", nil)
	all, err := e.Extract(page)
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, "20", all[0].Price.String(), "price specification beats aggregate bounds")
	assert.Equal(t, "12", all[1].Price.String(), "fixed aggregate beats low price")
	assert.Equal(t, "5", all[2].Price.String())
	for _, c := range all {
		assert.Equal(t, "GBP", c.Currency)
	}
}

func TestExtract_GraphAndNumbers(t *testing.T) {
	page := `<script type="application/ld+json">
{"@graph":[{"@type":"WebPage"},{"@type":"Product","offers":[{"@type":"Offer","price":1299.5,"priceCurrency":"usd"}]}]}
</script>`
	c, ok, err := New("EUR", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1299.5", c.Price.String())
	assert.Equal(t, "USD", c.Currency)
}

func TestExtract_MalformedJSONFallsThrough(t *testing.T) {
	page := `<head><script type="application/ld+json">{not json</script>
<meta property="og:price:amount" content="1.234,50"><meta property="og:price:currency" content="EUR"></head>`
	c, ok, err := New("USD", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceMetaTag, c.Source)
	assert.Equal(t, "1234.5", c.Price.String())
	assert.Equal(t, "EUR", c.Currency)
}

func TestExtract_Microdata(t *testing.T) {
	page := `<div itemscope itemtype="https://schema.org/Offer">
<meta itemprop="priceCurrency" content="CHF"><span itemprop="price" content="89.00">CHF 89.-</span></div>`
	c, ok, err := New("USD", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceMicrodata, c.Source)
	assert.Equal(t, "89", c.Price.String())
	assert.Equal(t, "CHF", c.Currency)
}

func TestExtract_MarketplaceSelectorsInOrder(t *testing.T) {
	page := `<body><div class="price">£30</div><div id="priceblock_ourprice">£25.99</div></body>`
	c, ok, err := New("USD", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceDOMHeuristic, c.Source)
	assert.Equal(t, "25.99", c.Price.String())
	assert.Equal(t, "GBP", c.Currency)
}

func TestExtract_FreeTextIgnoresScripts(t *testing.T) {
	page := `<body><script>var p = "$999";</script><p>Now only 1.299,00 € incl. VAT</p></body>`
	c, ok, err := New("USD", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceFreeText, c.Source)
	assert.Equal(t, "1299", c.Price.String())
	assert.Equal(t, "EUR", c.Currency)
}

func TestExtract_NothingFound(t *testing.T) {
	c, err := New("USD", nil).Extract(`<body><p>Sold out</p></body>`)
	require.NoError(t, err)
	assert.Empty(t, c)
}

func TestFromText(t *testing.T) {
	e := New("EUR", nil)

	c, ok := e.FromText("was $1,499.00 now $1,234.56")
	require.True(t, ok)
	assert.Equal(t, "1499", c.Price.String(), "first occurrence ranks highest")
	assert.Equal(t, "USD", c.Currency)

	c, ok = e.FromText("Jetzt nur 1.299 € inkl. MwSt.")
	require.True(t, ok)
	assert.Equal(t, "1299", c.Price.String())
	assert.Equal(t, "EUR", c.Currency)

	_, ok = e.FromText("no prices here, 42 items")
	assert.False(t, ok)
}

func TestExtract_StructuredPriceIsDotDecimal(t *testing.T) {
	page := `<script type="application/ld+json">
{"@type":"Offer","price":"1.299","priceCurrency":"EUR"}
</script>`
	c, ok, err := New("USD", nil).Best(page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceStructuredData, c.Source)
	assert.Equal(t, "1.299", c.Price.String())
}

func TestExtract_DepthGuard(t *testing.T) {
	page := `<script type="application/ld+json">{"a":{"b":{"c":{"d":{"price":"10"}}}}}</script>`
	e := New("USD", nil)
	e.MaxDepth = 2
	c, err := e.Extract(page)
	require.NoError(t, err)
	assert.Empty(t, c)

	e.MaxDepth = 12
	c, err = e.Extract(page)
	require.NoError(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, "10", c[0].Price.String())
}
