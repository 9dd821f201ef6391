package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/dmitrijs2005/camwatch/internal/logging"
)

// Source performs one (possibly slow) position lookup.
type Source interface {
	Fetch(ctx context.Context) (Fix, error)
}

// CachedProvider refreshes a fix from a Source in the background and serves
// the cached value instantly. A fetch failure keeps the previous fix.
type CachedProvider struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	mu  sync.RWMutex
	fix Fix
}

// NewCachedProvider creates a provider that polls source every interval,
// bounding each lookup by timeout.
func NewCachedProvider(source Source, interval, timeout time.Duration, logger logging.Logger) *CachedProvider {
	return &CachedProvider{
		source:   source,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "location_cache"),
	}
}

// Run refreshes the cache until ctx is canceled. Call it from its own
// goroutine.
func (p *CachedProvider) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// Current returns the cached fix without blocking.
func (p *CachedProvider) Current(ctx context.Context) Fix {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fix
}

func (p *CachedProvider) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fix, err := p.source.Fetch(fetchCtx)
	if err != nil {
		p.logger.Warn(ctx, "location fetch failed", "error", err.Error())
		return
	}

	p.mu.Lock()
	p.fix = fix
	p.mu.Unlock()
}

// ModemGPS reads the modem's GPS fix through mmcli --location-get.
type ModemGPS struct {
	program    string
	modemIndex string
}

// NewModemGPS creates a Source backed by the ModemManager CLI.
func NewModemGPS(mmcliPath, modemIndex string) *ModemGPS {
	return &ModemGPS{program: mmcliPath, modemIndex: modemIndex}
}

// Fetch runs one location query. Coordinates come back as strings in the
// mmcli JSON output.
func (g *ModemGPS) Fetch(ctx context.Context) (Fix, error) {
	res, err := executor.New(g.program, "-J", "-m", g.modemIndex, "--location-get").Execute(ctx)
	if err != nil {
		return Fix{}, fmt.Errorf("querying modem location: %w", err)
	}
	return parseLocationReply(res.Stdout)
}

func parseLocationReply(out string) (Fix, error) {
	var reply struct {
		Modem struct {
			Location struct {
				GPS struct {
					Latitude  string `json:"latitude"`
					Longitude string `json:"longitude"`
				} `json:"gps"`
			} `json:"location"`
		} `json:"modem"`
	}
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		return Fix{}, fmt.Errorf("parsing location reply: %w", err)
	}

	lat, err := strconv.ParseFloat(reply.Modem.Location.GPS.Latitude, 64)
	if err != nil {
		return Fix{}, fmt.Errorf("no usable latitude in location reply")
	}
	lon, err := strconv.ParseFloat(reply.Modem.Location.GPS.Longitude, 64)
	if err != nil {
		return Fix{}, fmt.Errorf("no usable longitude in location reply")
	}

	return Fix{Latitude: lat, Longitude: lon, Available: true}, nil
}
