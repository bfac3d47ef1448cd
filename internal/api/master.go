package api

import (
	"context"
	"fmt"

	"github.com/BOmBzOO/LS-VI-Strategy-v02/internal/protocol"
)

// Stock is one row of the t8430 stock master.
type Stock struct {
	Name       string `json:"hname"`
	Symbol     string `json:"shcode"` // short code
	ISIN       string `json:"expcode"`
	ETFGubun   string `json:"etfgubun"` // "1" for ETFs
	UpperLimit int    `json:"uplmtprice"`
	LowerLimit int    `json:"dnlmtprice"`
	PrevClose  int    `json:"jnilclose"`
	OrderUnit  string `json:"memedan"`
	BasePrice  int    `json:"recprice"`
	Gubun      string `json:"gubun"` // "1" KOSPI, "2" KOSDAQ
}

// Market returns the listing venue of the stock, or false for codes the
// master does not classify.
func (s *Stock) Market() (protocol.Market, bool) {
	switch s.Gubun {
	case "1":
		return protocol.MarketKOSPI, true
	case "2":
		return protocol.MarketKOSDAQ, true
	}
	return "", false
}

type stockMasterRequest struct {
	In stockMasterInBlock `json:"t8430InBlock"`
}

type stockMasterInBlock struct {
	Gubun string `json:"gubun"` // "0" all, "1" KOSPI, "2" KOSDAQ
}

type stockMasterResponse struct {
	Out []Stock `json:"t8430OutBlock"`
}

// StockMaster fetches the full t8430 stock master.
func (c *Client) StockMaster(ctx context.Context) ([]Stock, error) {
	req := stockMasterRequest{In: stockMasterInBlock{Gubun: "0"}}

	var rsp stockMasterResponse
	if err := c.postTR(ctx, "/stock/etc", "t8430", req, &rsp); err != nil {
		return nil, fmt.Errorf("fetch stock master: %w", err)
	}
	if len(rsp.Out) == 0 {
		return nil, fmt.Errorf("stock master returned no rows")
	}

	c.logger.Info("stock master loaded", "stocks", len(rsp.Out))
	return rsp.Out, nil
}

// MarketMap fetches the stock master and indexes listing venues by symbol.
func (c *Client) MarketMap(ctx context.Context) (map[string]protocol.Market, error) {
	stocks, err := c.StockMaster(ctx)
	if err != nil {
		return nil, err
	}

	markets := make(map[string]protocol.Market, len(stocks))
	for i := range stocks {
		if market, ok := stocks[i].Market(); ok {
			markets[stocks[i].Symbol] = market
		}
	}
	return markets, nil
}
