// Package collector runs a backend's declarative location map against a
// device: it deduplicates the commands the requested fields need, dispatches
// each one exactly once over the bound transports, and extracts every field
// offline from the captured responses. Failures degrade individual fields,
// never the pass.
package collector

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// Collector gathers field values for one device.
type Collector struct {
	transports transport.Set
	backend    miner.Backend
	logger     *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// New creates a collector binding a backend's location map to a device's
// transports.
func New(transports transport.Set, backend miner.Backend, opts ...Option) *Collector {
	c := &Collector{
		transports: transports,
		backend:    backend,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// commandResult captures one dispatched command's outcome.
type commandResult struct {
	raw []byte
	err error
}

// Collect gathers the requested fields, defaulting to the full catalog. Each
// distinct command is dispatched exactly once regardless of how many fields
// read from it. A failed command or missing path leaves its dependent fields
// absent; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context, fields ...miner.Field) FieldMap {
	if len(fields) == 0 {
		fields = miner.AllFields()
	}

	// Gather locations per field and deduplicate commands structurally.
	locations := make(map[miner.Field][]miner.Location, len(fields))
	pending := make([]miner.Command, 0)
	seen := make(map[miner.Command]struct{})
	for _, field := range fields {
		locs := c.backend.Locations(field)
		if len(locs) == 0 {
			continue
		}
		locations[field] = locs
		for _, loc := range locs {
			if _, ok := seen[loc.Command]; ok {
				continue
			}
			seen[loc.Command] = struct{}{}
			pending = append(pending, loc.Command)
		}
	}

	// Dispatch every distinct command once, concurrently. Tasks record
	// their outcome instead of returning errors so one failure cannot
	// cancel the rest of the pass.
	var mu sync.Mutex
	results := make(map[miner.Command]commandResult, len(pending))

	var group errgroup.Group
	for _, cmd := range pending {
		cmd := cmd
		group.Go(func() error {
			raw, err := c.transports.Execute(ctx, cmd)
			if err != nil {
				c.logger.Debug("command failed",
					zap.Stringer("command", cmd),
					zap.Error(err))
			}
			mu.Lock()
			results[cmd] = commandResult{raw: raw, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	// Extract each field from the captured responses. Untagged locations
	// resolve in declaration order, first success wins; tagged extractions
	// are all retained under their tags.
	out := make(FieldMap, len(locations))
	for field, locs := range locations {
		var fv FieldValue
		for _, loc := range locs {
			res, ok := results[loc.Command]
			if !ok || res.err != nil {
				continue
			}
			value, ok := loc.Extractor.Apply(res.raw)
			if !ok {
				continue
			}
			if tag := loc.Extractor.Tag; !tag.IsZero() {
				if fv.Tagged == nil {
					fv.Tagged = make(map[miner.Tag]gjson.Result)
				}
				fv.Tagged[tag] = value
				continue
			}
			if !fv.OK {
				fv.Value = value
				fv.OK = true
			}
		}
		if fv.OK || len(fv.Tagged) > 0 {
			out[field] = fv
		}
	}

	return out
}
