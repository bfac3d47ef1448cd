// Package protocol defines the LS OpenAPI realtime wire format: the
// header/body envelope, the channel (TR) code families, and the typed
// payloads consumed by this client.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Channel codes recognized by the router.
const (
	ChannelVI          = "VI_" // volatility interruption events, all markets
	ChannelTradeKOSPI  = "S3_" // per-symbol trade ticks, KOSPI
	ChannelTradeKOSDAQ = "K3_" // per-symbol trade ticks, KOSDAQ

	// Order lifecycle channels.
	ChannelOrderAccepted  = "SC0"
	ChannelOrderFilled    = "SC1"
	ChannelOrderAmended   = "SC2"
	ChannelOrderCancelled = "SC3"
	ChannelOrderRejected  = "SC4"
)

// AllSymbols is the routing-key sentinel for an all-symbols subscription.
const AllSymbols = "000000"

// tr_type codes. Quote channels and account/order channels use distinct
// register/unregister pairs.
const (
	TypeAccountSubscribe   = "1"
	TypeAccountUnsubscribe = "2"
	TypeQuoteSubscribe     = "3"
	TypeQuoteUnsubscribe   = "4"
)

// RspSuccess is the header rsp_cd value for a successful response.
const RspSuccess = "00000"

// Family groups channel codes that share subscription semantics.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyVI
	FamilyTrade
	FamilyOrder
)

// ChannelFamily classifies a channel code.
func ChannelFamily(channel string) Family {
	switch channel {
	case ChannelVI:
		return FamilyVI
	case ChannelTradeKOSPI, ChannelTradeKOSDAQ:
		return FamilyTrade
	case ChannelOrderAccepted, ChannelOrderFilled, ChannelOrderAmended,
		ChannelOrderCancelled, ChannelOrderRejected:
		return FamilyOrder
	default:
		return FamilyUnknown
	}
}

// SubscribeType returns the tr_type code that registers a subscription on
// the given channel.
func SubscribeType(channel string) string {
	if ChannelFamily(channel) == FamilyOrder {
		return TypeAccountSubscribe
	}
	return TypeQuoteSubscribe
}

// UnsubscribeType returns the tr_type code that releases a subscription on
// the given channel.
func UnsubscribeType(channel string) string {
	if ChannelFamily(channel) == FamilyOrder {
		return TypeAccountUnsubscribe
	}
	return TypeQuoteUnsubscribe
}

// Header is the envelope header shared by requests and responses.
type Header struct {
	Token  string `json:"token,omitempty"`
	TrType string `json:"tr_type,omitempty"`
	TrCd   string `json:"tr_cd,omitempty"`
	RspCd  string `json:"rsp_cd,omitempty"`
	RspMsg string `json:"rsp_msg,omitempty"`
	TrKey  string `json:"tr_key,omitempty"`
}

// Envelope is a decoded inbound message. Body is kept raw; channel-specific
// payloads are decoded on demand.
type Envelope struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// envelopeBody is the subset of body fields needed for routing.
type envelopeBody struct {
	TrCd  string `json:"tr_cd"`
	TrKey string `json:"tr_key"`
}

// IsError reports whether the envelope carries a non-success response code.
func (e *Envelope) IsError() bool {
	return e.Header.RspCd != "" && e.Header.RspCd != RspSuccess
}

// Channel returns the channel code, preferring the header's tr_cd and
// falling back to the body's.
func (e *Envelope) Channel() string {
	if e.Header.TrCd != "" {
		return e.Header.TrCd
	}
	var b envelopeBody
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, &b); err == nil {
			return b.TrCd
		}
	}
	return ""
}

// RoutingKey returns the body's tr_key, used to select subscribers within a
// channel.
func (e *Envelope) RoutingKey() string {
	var b envelopeBody
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, &b); err == nil {
			return b.TrKey
		}
	}
	return e.Header.TrKey
}

// ParseEnvelope decodes an inbound frame into an Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	return &env, nil
}

// request is the outbound subscribe/unsubscribe envelope.
type request struct {
	Header requestHeader `json:"header"`
	Body   requestBody   `json:"body"`
}

type requestHeader struct {
	Token  string `json:"token"`
	TrType string `json:"tr_type"`
}

type requestBody struct {
	TrCd  string `json:"tr_cd"`
	TrKey string `json:"tr_key"`
}

// SubscribeRequest builds the wire payload registering (channel, key).
func SubscribeRequest(token, channel, key string) []byte {
	return marshalRequest(token, SubscribeType(channel), channel, key)
}

// UnsubscribeRequest builds the wire payload releasing (channel, key).
func UnsubscribeRequest(token, channel, key string) []byte {
	return marshalRequest(token, UnsubscribeType(channel), channel, key)
}

func marshalRequest(token, trType, channel, key string) []byte {
	data, _ := json.Marshal(request{
		Header: requestHeader{Token: token, TrType: trType},
		Body:   requestBody{TrCd: channel, TrKey: key},
	})
	return data
}
