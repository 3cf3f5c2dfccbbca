package codec

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/spooky-finn/go-marketfeed/domain"
)

// Wire schema of the binary feed. Every data frame is one Envelope message
// in protobuf wire format:
//
//	Envelope {
//	  uint32 channel    = 1;  // 1 trades, 2 depth, 3 ticker, 4 kline
//	  string stream_id  = 2;
//	  int64  event_time = 3;  // unix milliseconds
//	  oneof payload {
//	    TradeBatch trades = 10;
//	    DepthDelta depth  = 11;
//	    BookTicker ticker = 12;
//	    Kline      kline  = 13;
//	  }
//	}
const (
	fieldChannel   = 1
	fieldStreamID  = 2
	fieldEventTime = 3

	fieldTrades = 10
	fieldDepth  = 11
	fieldTicker = 12
	fieldKline  = 13
)

const (
	wireChannelTrades = 1
	wireChannelDepth  = 2
	wireChannelTicker = 3
	wireChannelKline  = 4
)

// TradeBatch { repeated Trade trades = 1; }
// Trade { double price = 1; double amount = 2; bool is_sell = 3;
//         int64 time = 4; bool is_maker = 5; int64 trade_id = 6; }
const (
	fieldTrade = 1

	fieldTradePrice   = 1
	fieldTradeAmount  = 2
	fieldTradeIsSell  = 3
	fieldTradeTime    = 4
	fieldTradeIsMaker = 5
	fieldTradeID      = 6
)

// DepthDelta { int64 seq_start = 1; int64 seq_end = 2;
//              repeated Level bids = 3; repeated Level asks = 4; }
// Level { double price = 1; double size = 2; }
const (
	fieldDepthSeqStart = 1
	fieldDepthSeqEnd   = 2
	fieldDepthBids     = 3
	fieldDepthAsks     = 4

	fieldLevelPrice = 1
	fieldLevelSize  = 2
)

// BookTicker { double bid_price = 1; double bid_size = 2;
//              double ask_price = 3; double ask_size = 4; }
const (
	fieldTickerBidPrice = 1
	fieldTickerBidSize  = 2
	fieldTickerAskPrice = 3
	fieldTickerAskSize  = 4
)

// Kline { double open = 1; double high = 2; double low = 3; double close = 4;
//         double volume = 5; string interval = 6; int64 open_time = 7; }
const (
	fieldKlineOpen     = 1
	fieldKlineHigh     = 2
	fieldKlineLow      = 3
	fieldKlineClose    = 4
	fieldKlineVolume   = 5
	fieldKlineInterval = 6
	fieldKlineOpenTime = 7
)

func channelFromWire(v uint64) domain.ChannelType {
	switch v {
	case wireChannelTrades:
		return domain.Channel_Trades
	case wireChannelDepth:
		return domain.Channel_OrderBook
	case wireChannelTicker:
		return domain.Channel_Ticker
	case wireChannelKline:
		return domain.Channel_Kline
	}
	return domain.Channel_Unknown
}

func payloadFieldForChannel(c domain.ChannelType) protowire.Number {
	switch c {
	case domain.Channel_Trades:
		return fieldTrades
	case domain.Channel_OrderBook:
		return fieldDepth
	case domain.Channel_Ticker:
		return fieldTicker
	case domain.Channel_Kline:
		return fieldKline
	}
	return 0
}

// ---- encoding helpers -------------------------------------------------
//
// The ingest path never encodes, but the replay tooling and the test
// suites need to produce byte-exact frames.

func appendDouble(dst []byte, num protowire.Number, v float64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(dst, math.Float64bits(v))
}

func appendVarint(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, v)
}

func appendBytes(dst []byte, num protowire.Number, v []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, v)
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// MarshalTradeBatch encodes a TradeBatch payload message.
func MarshalTradeBatch(batch *domain.TradeBatch) []byte {
	var dst []byte
	for i := range batch.Trades {
		t := &batch.Trades[i]
		var tb []byte
		tb = appendDouble(tb, fieldTradePrice, t.Price)
		tb = appendDouble(tb, fieldTradeAmount, t.Amount)
		tb = appendVarint(tb, fieldTradeIsSell, boolBit(t.IsSell))
		tb = appendVarint(tb, fieldTradeTime, uint64(t.Timestamp))
		tb = appendVarint(tb, fieldTradeIsMaker, boolBit(t.IsMaker))
		tb = appendVarint(tb, fieldTradeID, uint64(t.TradeID))
		dst = appendBytes(dst, fieldTrade, tb)
	}
	return dst
}

func marshalLevel(level domain.PriceLevel) []byte {
	var dst []byte
	dst = appendDouble(dst, fieldLevelPrice, level.Price)
	dst = appendDouble(dst, fieldLevelSize, level.Size)
	return dst
}

// MarshalDepthDelta encodes a DepthDelta payload message.
func MarshalDepthDelta(delta *domain.DepthDelta) []byte {
	var dst []byte
	dst = appendVarint(dst, fieldDepthSeqStart, uint64(delta.SequenceStart))
	dst = appendVarint(dst, fieldDepthSeqEnd, uint64(delta.SequenceEnd))
	for _, level := range delta.Bids {
		dst = appendBytes(dst, fieldDepthBids, marshalLevel(level))
	}
	for _, level := range delta.Asks {
		dst = appendBytes(dst, fieldDepthAsks, marshalLevel(level))
	}
	return dst
}

// MarshalBookTicker encodes a BookTicker payload message.
func MarshalBookTicker(t *domain.BookTicker) []byte {
	var dst []byte
	dst = appendDouble(dst, fieldTickerBidPrice, t.BidPrice)
	dst = appendDouble(dst, fieldTickerBidSize, t.BidSize)
	dst = appendDouble(dst, fieldTickerAskPrice, t.AskPrice)
	dst = appendDouble(dst, fieldTickerAskSize, t.AskSize)
	return dst
}

// MarshalKline encodes a Kline payload message.
func MarshalKline(k *domain.Kline) []byte {
	var dst []byte
	dst = appendDouble(dst, fieldKlineOpen, k.Open)
	dst = appendDouble(dst, fieldKlineHigh, k.High)
	dst = appendDouble(dst, fieldKlineLow, k.Low)
	dst = appendDouble(dst, fieldKlineClose, k.Close)
	dst = appendDouble(dst, fieldKlineVolume, k.Volume)
	dst = appendBytes(dst, fieldKlineInterval, []byte(k.Interval))
	dst = appendVarint(dst, fieldKlineOpenTime, uint64(k.OpenTime))
	return dst
}

// MarshalEnvelope wraps an already-encoded payload into a full frame.
func MarshalEnvelope(channel domain.ChannelType, streamID string, eventTime int64, payload []byte) []byte {
	var dst []byte
	dst = appendVarint(dst, fieldChannel, wireChannel(channel))
	dst = appendBytes(dst, fieldStreamID, []byte(streamID))
	dst = appendVarint(dst, fieldEventTime, uint64(eventTime))
	if num := payloadFieldForChannel(channel); num != 0 {
		dst = appendBytes(dst, num, payload)
	}
	return dst
}

func wireChannel(c domain.ChannelType) uint64 {
	switch c {
	case domain.Channel_Trades:
		return wireChannelTrades
	case domain.Channel_OrderBook:
		return wireChannelDepth
	case domain.Channel_Ticker:
		return wireChannelTicker
	case domain.Channel_Kline:
		return wireChannelKline
	}
	return 0
}
