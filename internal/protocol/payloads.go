package protocol

import (
	"encoding/json"
	"fmt"
)

// VI gubun codes reported in VIEvent.Gubun.
const (
	VIReleased      = "0"
	VIStatic        = "1"
	VIDynamic       = "2"
	VIStaticDynamic = "3"
)

// VIEvent is the body of a VI_ channel message.
type VIEvent struct {
	Gubun          string `json:"vi_gubun"`     // "0" release, "1" static, "2" dynamic, "3" both
	StaticRefPrice string `json:"svi_recprice"` // static VI reference price
	DynamicRef     string `json:"dvi_recprice"` // dynamic VI reference price
	TriggerPrice   string `json:"vi_trgprice"`
	Symbol         string `json:"shcode"`
	RefSymbol      string `json:"ref_shcode"`
	Time           string `json:"time"` // HHMMSS exchange time
	Exchange       string `json:"exchname"`
}

// Activated reports whether the event is an activation (any non-release
// gubun) rather than a release.
func (v *VIEvent) Activated() bool {
	return v.Gubun != "" && v.Gubun != VIReleased
}

// KindLabel returns a human-readable VI kind for logging.
func (v *VIEvent) KindLabel() string {
	switch v.Gubun {
	case VIReleased:
		return "released"
	case VIStatic:
		return "static"
	case VIDynamic:
		return "dynamic"
	case VIStaticDynamic:
		return "static+dynamic"
	default:
		return "unknown"
	}
}

// ParseVIEvent decodes a VI_ message body.
func ParseVIEvent(body json.RawMessage) (*VIEvent, error) {
	var ev VIEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse vi event: %w", err)
	}
	if ev.Symbol == "" && ev.RefSymbol == "" {
		return nil, fmt.Errorf("vi event missing symbol")
	}
	return &ev, nil
}

// TradeTick is the body of an S3_/K3_ channel message. Only the fields this
// client consumes are mapped; the broker sends many more.
type TradeTick struct {
	Symbol    string `json:"shcode"`
	Time      string `json:"chetime"` // HHMMSS execution time
	Price     string `json:"price"`
	Sign      string `json:"sign"`   // vs previous close: 2 up, 3 flat, 5 down
	Change    string `json:"change"` // absolute change vs previous close
	Rate      string `json:"drate"`  // change rate (%)
	Volume    string `json:"cvolume"`
	CumVolume string `json:"volume"`
	Side      string `json:"cgubun"` // "+" buy, "-" sell
}

// ParseTradeTick decodes an S3_/K3_ message body.
func ParseTradeTick(body json.RawMessage) (*TradeTick, error) {
	var t TradeTick
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("parse trade tick: %w", err)
	}
	if t.Symbol == "" {
		return nil, fmt.Errorf("trade tick missing symbol")
	}
	return &t, nil
}

// OrderEvent is the body of an SC0-SC4 order lifecycle message.
type OrderEvent struct {
	AccountNo string `json:"accno1"`
	OrderNo   string `json:"ordno"`
	Symbol    string `json:"shtcode"`
	Quantity  string `json:"ordqty"`
	Price     string `json:"ordprice"`
	ExecQty   string `json:"execqty"`
	ExecPrice string `json:"execprc"`
	Status    string `json:"ordxctptncode"`
}

// ParseOrderEvent decodes an order lifecycle message body.
func ParseOrderEvent(body json.RawMessage) (*OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse order event: %w", err)
	}
	return &ev, nil
}

// Market identifies the listing venue of a symbol.
type Market string

const (
	MarketKOSPI  Market = "kospi"
	MarketKOSDAQ Market = "kosdaq"
)

// TradeChannel returns the trade-tick channel code for a market.
func (m Market) TradeChannel() string {
	if m == MarketKOSDAQ {
		return ChannelTradeKOSDAQ
	}
	return ChannelTradeKOSPI
}
