package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/zsiec/moqview/media"
)

// CachingProber wraps a Prober and remembers its answers, so a rendition
// switch that re-probes a config already seen this session doesn't cross
// back into the host's decoder capability check (a real WebCodecs
// isConfigSupported call is asynchronous and not free to repeat).
type CachingProber struct {
	prober Prober
	cache  *cache.Cache
}

// NewCachingProber wraps prober with a cache holding entries for ttl before
// they expire and are re-probed.
func NewCachingProber(prober Prober, ttl time.Duration) *CachingProber {
	return &CachingProber{prober: prober, cache: cache.New(ttl, ttl*2)}
}

func (c *CachingProber) CanDecode(ctx context.Context, config media.VideoConfig) (bool, error) {
	key := probeKey(config)
	if v, ok := c.cache.Get(key); ok {
		return v.(bool), nil
	}
	ok, err := c.prober.CanDecode(ctx, config)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, ok, cache.DefaultExpiration)
	return ok, nil
}

func probeKey(config media.VideoConfig) string {
	return fmt.Sprintf("%s|%v|%s", config.Codec, config.Latency(), config.Description)
}

var _ Prober = (*CachingProber)(nil)
