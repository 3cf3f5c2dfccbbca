package codec

import (
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/spooky-finn/go-marketfeed/domain"
)

const classifierPrefixLen = 8

// Classifier guesses the payload variant of a raw frame from its leading
// bytes without committing to a full decode. A placed guess sends the frame
// down the decoder's single-pass fast path with the payload parser
// pre-selected; the decoder falls back to a full envelope walk on a miss or
// mismatch, so a wrong guess can never break the pipeline.
//
// Frames with an identical framing signature (same leading bytes) repeat
// constantly on a live feed, so classifications are cached keyed by a
// short byte prefix.
type Classifier struct {
	mu    sync.RWMutex
	cache map[string]domain.ChannelType

	stats *Stats
}

func NewClassifier(stats *Stats) *Classifier {
	return &Classifier{
		cache: make(map[string]domain.ChannelType),
		stats: stats,
	}
}

// Classify returns the guessed channel for a frame, or Channel_Unknown if
// the leading bytes do not look like an envelope.
func (c *Classifier) Classify(frame []byte) domain.ChannelType {
	if len(frame) == 0 {
		return domain.Channel_Unknown
	}

	prefix := frame
	if len(prefix) > classifierPrefixLen {
		prefix = prefix[:classifierPrefixLen]
	}
	key := string(prefix)

	c.mu.RLock()
	channel, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		c.stats.ClassifierHits.Add(1)
		return channel
	}
	c.stats.ClassifierMisses.Add(1)

	channel = peekChannel(frame)
	if channel != domain.Channel_Unknown {
		c.mu.Lock()
		c.cache[key] = channel
		c.mu.Unlock()
	}
	return channel
}

// peekChannel reads just the first envelope field. Well-formed frames put
// the channel discriminator first, so this touches only a handful of bytes.
func peekChannel(frame []byte) domain.ChannelType {
	num, typ, n := protowire.ConsumeTag(frame)
	if n < 0 || num != fieldChannel || typ != protowire.VarintType {
		return domain.Channel_Unknown
	}
	v, n2 := protowire.ConsumeVarint(frame[n:])
	if n2 < 0 {
		return domain.Channel_Unknown
	}
	return channelFromWire(v)
}
