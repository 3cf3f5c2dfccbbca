package codec

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/pool"
)

const (
	DefaultCacheCapacity    = 512
	DefaultCacheMaxFrame    = 2 << 10
	DefaultAccumulatorLimit = 1 << 20
)

// ErrFrameDropped is returned when the fragment accumulator exceeded its
// bound and the buffered bytes were discarded. One logical message is lost;
// the pipeline keeps running.
var ErrFrameDropped = fmt.Errorf("fragment accumulator overflow, frame dropped")

type Options struct {
	CacheCapacity    int
	CacheMaxFrame    int
	AccumulatorLimit int
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}
	if opts.CacheMaxFrame == 0 {
		opts.CacheMaxFrame = DefaultCacheMaxFrame
	}
	if opts.AccumulatorLimit == 0 {
		opts.AccumulatorLimit = DefaultAccumulatorLimit
	}
	return opts
}

// envelopeScratch holds the field spans of one envelope walk. Pooled: the
// spans alias the input frame and are only valid until the walk's caller
// returns the scratch.
type envelopeScratch struct {
	channel    domain.ChannelType
	streamID   []byte
	eventTime  int64
	payload    []byte
	payloadNum protowire.Number
}

func (s *envelopeScratch) reset() {
	s.channel = domain.Channel_Unknown
	s.streamID = nil
	s.eventTime = 0
	s.payload = nil
	s.payloadNum = 0
}

// Decoder converts raw binary frames into normalized ParsedMessages.
//
// Pipeline per frame: content-hash cache lookup, then a classified
// single-pass decode with the payload parser pre-selected, then the generic
// envelope walk for frames the classifier could not place; on a malformed
// frame the bytes are treated as a fragment and accumulated until the
// buffer decodes or overflows its bound.
//
// Decode is driven by a single read loop per connection and is not safe for
// concurrent use; the pools and caches it owns are.
type Decoder struct {
	registry   *domain.SymbolRegistry
	stats      *Stats
	classifier *Classifier
	cache      *resultCache
	scratch    *pool.Pool[*envelopeScratch]
	buffers    *pool.BufferPool

	acc      []byte
	accLimit int
}

func NewDecoder(registry *domain.SymbolRegistry, stats *Stats, opts *Options) *Decoder {
	o := opts.withDefaults()
	return &Decoder{
		registry:   registry,
		stats:      stats,
		classifier: NewClassifier(stats),
		cache:      newResultCache(o.CacheCapacity, o.CacheMaxFrame),
		scratch: pool.New(
			func() *envelopeScratch { return &envelopeScratch{} },
			func(s *envelopeScratch) { s.reset() },
		),
		buffers:  pool.NewBufferPool(),
		accLimit: o.AccumulatorLimit,
	}
}

// Decode parses one raw frame. Returns (msg, nil) for a decoded message,
// (nil, nil) when there is no message to emit (unknown frame, control ack,
// or fragment buffered awaiting its continuation), and (nil, err) only when
// bytes had to be dropped.
func (d *Decoder) Decode(frame []byte) (*domain.ParsedMessage, error) {
	start := time.Now()
	defer func() {
		d.stats.ParseNanos.Add(time.Since(start).Nanoseconds())
	}()
	d.stats.Frames.Add(1)

	var cacheKey uint64
	cacheable := len(d.acc) == 0 && d.cache.cacheable(frame)
	if cacheable {
		cacheKey = d.cache.key(frame)
		if msg, ok := d.cache.get(cacheKey); ok {
			d.stats.CacheHits.Add(1)
			return msg, nil
		}
		d.stats.CacheMisses.Add(1)
	}

	msg, err := d.decodeFrame(frame, d.classifier.Classify(frame))
	if err == nil {
		if len(d.acc) > 0 {
			// a complete frame arrived while a partial one was pending;
			// whatever was buffered can never complete now
			d.resetAccumulator()
			d.stats.FramesDropped.Add(1)
		}
		if msg != nil && cacheable {
			d.cache.put(cacheKey, msg.Clone())
		}
		return msg, nil
	}

	return d.accumulate(frame)
}

// accumulate appends a fragment to the streaming buffer and retries the
// decode on the accumulated bytes.
func (d *Decoder) accumulate(fragment []byte) (*domain.ParsedMessage, error) {
	d.stats.Fragments.Add(1)

	if len(d.acc)+len(fragment) > d.accLimit {
		d.resetAccumulator()
		d.stats.FramesDropped.Add(1)
		return nil, ErrFrameDropped
	}

	if d.acc == nil {
		d.acc = d.buffers.Get(1 << 12)[:0]
	}
	d.acc = append(d.acc, fragment...)

	msg, err := d.decodeFrame(d.acc, d.classifier.Classify(d.acc))
	if err != nil {
		// still incomplete, wait for the next fragment
		return nil, nil
	}

	d.resetAccumulator()
	return msg, nil
}

func (d *Decoder) resetAccumulator() {
	if d.acc != nil {
		d.buffers.Put(d.acc[:cap(d.acc)])
		d.acc = nil
	}
}

// decodeFrame extracts one message from a complete envelope. A classified
// frame takes the single-pass fast path; frames the fast path cannot place
// fall back to the generic envelope walk. Any structural error means the
// bytes are not (yet) a complete envelope.
func (d *Decoder) decodeFrame(frame []byte, guess domain.ChannelType) (*domain.ParsedMessage, error) {
	if guess != domain.Channel_Unknown {
		if msg, ok, err := d.decodeClassified(frame, guess); ok {
			return msg, err
		}
	}

	sc := d.scratch.Get()
	defer d.scratch.Put(sc)

	if err := d.walkEnvelope(frame, sc); err != nil {
		return nil, err
	}

	if sc.channel == domain.Channel_Unknown || len(sc.streamID) == 0 {
		// control acks and unrecognized shapes are expected, not errors
		d.stats.UnknownFrames.Add(1)
		return nil, nil
	}

	if payloadFieldForChannel(sc.channel) != sc.payloadNum {
		d.stats.UnknownFrames.Add(1)
		return nil, nil
	}

	return d.buildMessage(sc.channel, sc.streamID, sc.eventTime, sc.payload)
}

// decodeClassified is the fast path for frames whose payload variant the
// classifier already placed: one pass over the canonical field order with
// the payload parser pre-selected and no scratch checkout. Returns ok=false
// when the frame deviates from that shape; the caller then re-walks it
// generically, so a wrong or stale guess never loses a frame.
func (d *Decoder) decodeClassified(frame []byte, guess domain.ChannelType) (msg *domain.ParsedMessage, ok bool, err error) {
	rest := frame

	num, typ, n := protowire.ConsumeTag(rest)
	if n < 0 || num != fieldChannel || typ != protowire.VarintType {
		return nil, false, nil
	}
	rest = rest[n:]
	ch, n := protowire.ConsumeVarint(rest)
	if n < 0 || channelFromWire(ch) != guess {
		return nil, false, nil
	}
	rest = rest[n:]

	num, typ, n = protowire.ConsumeTag(rest)
	if n < 0 || num != fieldStreamID || typ != protowire.BytesType {
		return nil, false, nil
	}
	rest = rest[n:]
	streamID, n := protowire.ConsumeBytes(rest)
	if n < 0 || len(streamID) == 0 {
		return nil, false, nil
	}
	rest = rest[n:]

	num, typ, n = protowire.ConsumeTag(rest)
	if n < 0 || num != fieldEventTime || typ != protowire.VarintType {
		return nil, false, nil
	}
	rest = rest[n:]
	eventTime, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return nil, false, nil
	}
	rest = rest[n:]

	num, typ, n = protowire.ConsumeTag(rest)
	if n < 0 || num != payloadFieldForChannel(guess) || typ != protowire.BytesType {
		return nil, false, nil
	}
	rest = rest[n:]
	payload, n := protowire.ConsumeBytes(rest)
	if n < 0 || n != len(rest) {
		return nil, false, nil
	}

	msg, err = d.buildMessage(guess, streamID, int64(eventTime), payload)
	return msg, true, err
}

// buildMessage resolves the symbol and parses the payload for a channel.
// Shared by the classified fast path and the generic walk.
func (d *Decoder) buildMessage(channel domain.ChannelType, streamID []byte, eventTime int64, payload []byte) (*domain.ParsedMessage, error) {
	symbol, err := d.registry.Resolve(string(streamID))
	if err != nil {
		d.stats.UnknownFrames.Add(1)
		return nil, nil
	}

	msg := &domain.ParsedMessage{
		StreamID:  string(streamID),
		Channel:   channel,
		Symbol:    symbol,
		Timestamp: eventTime,
	}

	switch channel {
	case domain.Channel_Trades:
		batch, err := parseTradeBatch(payload)
		if err != nil {
			return nil, err
		}
		msg.Trades = batch
		d.stats.TradeBatches.Add(1)
	case domain.Channel_OrderBook:
		delta, err := parseDepthDelta(payload)
		if err != nil {
			return nil, err
		}
		msg.Depth = delta
		d.stats.DepthUpdates.Add(1)
	case domain.Channel_Ticker:
		ticker, err := parseBookTicker(payload)
		if err != nil {
			return nil, err
		}
		msg.Ticker = ticker
	case domain.Channel_Kline:
		kline, err := parseKline(payload)
		if err != nil {
			return nil, err
		}
		msg.Kline = kline
	}

	return msg, nil
}

func (d *Decoder) walkEnvelope(frame []byte, sc *envelopeScratch) error {
	rest := frame
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return protowire.ParseError(n)
		}
		rest = rest[n:]

		switch num {
		case fieldChannel:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 || typ != protowire.VarintType {
				return malformedField(num, n)
			}
			sc.channel = channelFromWire(v)
			rest = rest[n:]
		case fieldStreamID:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 || typ != protowire.BytesType {
				return malformedField(num, n)
			}
			sc.streamID = v
			rest = rest[n:]
		case fieldEventTime:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 || typ != protowire.VarintType {
				return malformedField(num, n)
			}
			sc.eventTime = int64(v)
			rest = rest[n:]
		case fieldTrades, fieldDepth, fieldTicker, fieldKline:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 || typ != protowire.BytesType {
				return malformedField(num, n)
			}
			sc.payload = v
			sc.payloadNum = num
			rest = rest[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return malformedField(num, n)
			}
			rest = rest[n:]
		}
	}
	return nil
}

func malformedField(num protowire.Number, n int) error {
	if n < 0 {
		return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	return fmt.Errorf("field %d: unexpected wire type", num)
}

func parseTradeBatch(payload []byte) (*domain.TradeBatch, error) {
	batch := &domain.TradeBatch{}
	rest := payload
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest = rest[n:]

		if num != fieldTrade || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return nil, malformedField(num, n)
			}
			rest = rest[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return nil, malformedField(num, n)
		}
		rest = rest[n:]

		trade, err := parseTrade(raw)
		if err != nil {
			return nil, err
		}
		batch.Trades = append(batch.Trades, trade)
	}
	return batch, nil
}

func parseTrade(raw []byte) (domain.Trade, error) {
	var t domain.Trade
	rest := raw
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return t, protowire.ParseError(n)
		}
		rest = rest[n:]

		switch num {
		case fieldTradePrice, fieldTradeAmount:
			v, n := protowire.ConsumeFixed64(rest)
			if n < 0 || typ != protowire.Fixed64Type {
				return t, malformedField(num, n)
			}
			if num == fieldTradePrice {
				t.Price = math.Float64frombits(v)
			} else {
				t.Amount = math.Float64frombits(v)
			}
			rest = rest[n:]
		case fieldTradeIsSell, fieldTradeTime, fieldTradeIsMaker, fieldTradeID:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 || typ != protowire.VarintType {
				return t, malformedField(num, n)
			}
			switch num {
			case fieldTradeIsSell:
				t.IsSell = v != 0
			case fieldTradeTime:
				t.Timestamp = int64(v)
			case fieldTradeIsMaker:
				t.IsMaker = v != 0
			case fieldTradeID:
				t.TradeID = int64(v)
			}
			rest = rest[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return t, malformedField(num, n)
			}
			rest = rest[n:]
		}
	}
	return t, nil
}

func parseDepthDelta(payload []byte) (*domain.DepthDelta, error) {
	delta := &domain.DepthDelta{}
	rest := payload
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest = rest[n:]

		switch num {
		case fieldDepthSeqStart, fieldDepthSeqEnd:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 || typ != protowire.VarintType {
				return nil, malformedField(num, n)
			}
			if num == fieldDepthSeqStart {
				delta.SequenceStart = int64(v)
			} else {
				delta.SequenceEnd = int64(v)
			}
			rest = rest[n:]
		case fieldDepthBids, fieldDepthAsks:
			raw, n := protowire.ConsumeBytes(rest)
			if n < 0 || typ != protowire.BytesType {
				return nil, malformedField(num, n)
			}
			rest = rest[n:]

			level, err := parseLevel(raw)
			if err != nil {
				return nil, err
			}
			if num == fieldDepthBids {
				delta.Bids = append(delta.Bids, level)
			} else {
				delta.Asks = append(delta.Asks, level)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return nil, malformedField(num, n)
			}
			rest = rest[n:]
		}
	}
	return delta, nil
}

func parseLevel(raw []byte) (domain.PriceLevel, error) {
	var level domain.PriceLevel
	rest := raw
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return level, protowire.ParseError(n)
		}
		rest = rest[n:]

		v, vn := protowire.ConsumeFixed64(rest)
		if vn < 0 || typ != protowire.Fixed64Type {
			return level, malformedField(num, vn)
		}
		switch num {
		case fieldLevelPrice:
			level.Price = math.Float64frombits(v)
		case fieldLevelSize:
			level.Size = math.Float64frombits(v)
		}
		rest = rest[vn:]
	}
	return level, nil
}

func parseBookTicker(payload []byte) (*domain.BookTicker, error) {
	ticker := &domain.BookTicker{}
	rest := payload
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest = rest[n:]

		v, vn := protowire.ConsumeFixed64(rest)
		if vn < 0 || typ != protowire.Fixed64Type {
			return nil, malformedField(num, vn)
		}
		switch num {
		case fieldTickerBidPrice:
			ticker.BidPrice = math.Float64frombits(v)
		case fieldTickerBidSize:
			ticker.BidSize = math.Float64frombits(v)
		case fieldTickerAskPrice:
			ticker.AskPrice = math.Float64frombits(v)
		case fieldTickerAskSize:
			ticker.AskSize = math.Float64frombits(v)
		}
		rest = rest[vn:]
	}
	return ticker, nil
}

func parseKline(payload []byte) (*domain.Kline, error) {
	kline := &domain.Kline{}
	rest := payload
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest = rest[n:]

		switch num {
		case fieldKlineOpen, fieldKlineHigh, fieldKlineLow, fieldKlineClose, fieldKlineVolume:
			v, vn := protowire.ConsumeFixed64(rest)
			if vn < 0 || typ != protowire.Fixed64Type {
				return nil, malformedField(num, vn)
			}
			f := math.Float64frombits(v)
			switch num {
			case fieldKlineOpen:
				kline.Open = f
			case fieldKlineHigh:
				kline.High = f
			case fieldKlineLow:
				kline.Low = f
			case fieldKlineClose:
				kline.Close = f
			case fieldKlineVolume:
				kline.Volume = f
			}
			rest = rest[vn:]
		case fieldKlineInterval:
			v, vn := protowire.ConsumeBytes(rest)
			if vn < 0 || typ != protowire.BytesType {
				return nil, malformedField(num, vn)
			}
			kline.Interval = string(v)
			rest = rest[vn:]
		case fieldKlineOpenTime:
			v, vn := protowire.ConsumeVarint(rest)
			if vn < 0 || typ != protowire.VarintType {
				return nil, malformedField(num, vn)
			}
			kline.OpenTime = int64(v)
			rest = rest[vn:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return nil, malformedField(num, n)
			}
			rest = rest[n:]
		}
	}
	return kline, nil
}

// Stats exposes the decoder's counters for the health surface.
func (d *Decoder) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// CacheLen reports the current number of memoized decode results.
func (d *Decoder) CacheLen() int {
	return d.cache.len()
}
