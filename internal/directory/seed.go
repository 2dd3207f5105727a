package directory

import (
	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/model"
)

// seedStocks is the built-in reference catalog. Last-known prices are
// display fallbacks only; live quotes come from the quote collaborator.
var seedStocks = []model.Stock{
	{Symbol: "NVDA", Name: "NVIDIA", LogoURL: "https://logo.clearbit.com/nvidia.com", LastPrice: decimal.NewFromFloat(920.5), DayChangePct: decimal.NewFromFloat(4.2)},
	{Symbol: "AAPL", Name: "Apple", LogoURL: "https://logo.clearbit.com/apple.com", LastPrice: decimal.NewFromFloat(178.2), DayChangePct: decimal.NewFromFloat(0.5)},
	{Symbol: "TSLA", Name: "Tesla", LogoURL: "https://logo.clearbit.com/tesla.com", LastPrice: decimal.NewFromFloat(172.5), DayChangePct: decimal.NewFromFloat(-2.1)},
	{Symbol: "MSFT", Name: "Microsoft", LogoURL: "https://logo.clearbit.com/microsoft.com", LastPrice: decimal.NewFromFloat(420.0), DayChangePct: decimal.NewFromFloat(1.2)},
	{Symbol: "BABA", Name: "Alibaba", LogoURL: "https://logo.clearbit.com/alibaba.com", LastPrice: decimal.NewFromFloat(75.0), DayChangePct: decimal.NewFromFloat(-0.8)},
	{Symbol: "GOOG", Name: "Google", LogoURL: "https://logo.clearbit.com/google.com", LastPrice: decimal.NewFromFloat(175.5), DayChangePct: decimal.NewFromFloat(1.8)},
	{Symbol: "AMZN", Name: "Amazon", LogoURL: "https://logo.clearbit.com/amazon.com", LastPrice: decimal.NewFromFloat(185.2), DayChangePct: decimal.NewFromFloat(0.9)},
	{Symbol: "META", Name: "Meta", LogoURL: "https://logo.clearbit.com/meta.com", LastPrice: decimal.NewFromFloat(505.8), DayChangePct: decimal.NewFromFloat(2.3)},
}

// seedAliases covers localized company names and common ticker variants.
var seedAliases = map[string]string{
	"特斯拉":      "TSLA",
	"苹果":       "AAPL",
	"英伟达":      "NVDA",
	"微软":       "MSFT",
	"阿里巴巴":     "BABA",
	"阿里":       "BABA",
	"谷歌":       "GOOG",
	"googl":    "GOOG",
	"alphabet": "GOOG",
	"亚马逊":      "AMZN",
	"脸书":       "META",
	"facebook": "META",
	"fb":       "META",
}

// Default returns the directory backed by the built-in catalog.
func Default() *Directory {
	d, err := New(seedStocks, seedAliases)
	if err != nil {
		panic(err) // seed tables are compile-time data
	}
	return d
}
