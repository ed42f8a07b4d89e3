package bindrune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/sigaldry/sigaldry/channel"
	"github.com/sigaldry/sigaldry/codec"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

var (
	// ErrNoChannel is returned by Forge when no registered channel
	// provides the isolation the request needs.
	ErrNoChannel = errors.New("bindrune: no channel provides the requested isolation")

	// ErrUnboundedLimit is returned by Forge when the request asks for an
	// unbounded message limit. Unbounded limits exist only in capability
	// sets; every forged binding with a limit rune has a finite budget.
	ErrUnboundedLimit = errors.New("bindrune: unbounded message limit cannot be requested")
)

// Provider forges BindRunes. It owns the construction registry, the set
// of isolation channels, and the message codec shared by all bindings it
// creates.
type Provider struct {
	registry *construction.Registry
	cdc      codec.Codec
	log      *slog.Logger

	mu       sync.RWMutex
	channels map[runes.IsolationLevel]channel.IsolationChannel
	// levels holds the registered isolation levels in ascending order, so
	// forge picks the weakest channel that satisfies a request.
	levels []runes.IsolationLevel
}

// NewProvider creates a provider over a frozen registry.
func NewProvider(registry *construction.Registry, cdc codec.Codec, log *slog.Logger) *Provider {
	return &Provider{
		registry: registry,
		cdc:      cdc,
		log:      log,
		channels: make(map[runes.IsolationLevel]channel.IsolationChannel),
	}
}

// RegisterChannel adds an isolation channel. At most one channel per
// isolation level is allowed.
func (p *Provider) RegisterChannel(ch channel.IsolationChannel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	level := ch.Level()
	if _, dup := p.channels[level]; dup {
		return fmt.Errorf("bindrune: channel for isolation level %s already registered", level)
	}
	p.channels[level] = ch
	p.levels = append(p.levels, level)
	sort.Slice(p.levels, func(i, j int) bool { return p.levels[i] < p.levels[j] })
	return nil
}

// ForgeOption adjusts a single forge request.
type ForgeOption func(*forgeOptions)

type forgeOptions struct {
	constructionID construction.ID
	pinned         bool
	level          runes.IsolationLevel
	levelSet       bool
	origin         string
}

// WithConstruction pins the forge to a specific construction instead of
// resolving one. Forge fails if the pinned construction does not satisfy
// the schema; it never falls back to resolution.
func WithConstruction(id construction.ID) ForgeOption {
	return func(o *forgeOptions) {
		o.constructionID = id
		o.pinned = true
	}
}

// WithIsolation forces the forge onto the channel at exactly the given
// isolation level.
func WithIsolation(level runes.IsolationLevel) ForgeOption {
	return func(o *forgeOptions) {
		o.level = level
		o.levelSet = true
	}
}

// WithOrigin sets the sender identity claim carried in every sealed
// message. It overrides an origin taken from the schema's
// Authentication rune.
func WithOrigin(origin string) ForgeOption {
	return func(o *forgeOptions) { o.origin = origin }
}

// Forge validates the schema, picks a channel and a construction,
// generates key material inside the channel, and returns an active
// BindRune. The schema is copied; later caller mutation has no effect
// on the binding.
func (p *Provider) Forge(ctx context.Context, schema runes.Schema, opts ...ForgeOption) (*BindRune, error) {
	var o forgeOptions
	for _, opt := range opts {
		opt(&o)
	}

	schema = schema.Clone()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if r, ok := schema.Get(runes.KindMessageLimit); ok && r.(runes.MessageLimit).Unbounded {
		return nil, ErrUnboundedLimit
	}
	if r, ok := schema.Get(runes.KindMessageSizeLimit); ok && r.(runes.MessageSizeLimit).Unbounded {
		return nil, ErrUnboundedLimit
	}
	if r, ok := schema.Get(runes.KindTotalDataLimit); ok && r.(runes.TotalDataLimit).Unbounded {
		return nil, ErrUnboundedLimit
	}

	ch, err := p.channelFor(&o, schema)
	if err != nil {
		return nil, err
	}

	// Environment runes (isolation level, certifications) are provided by
	// where the key lives, not by the cipher; the construction only has
	// to cover what the environment does not.
	remaining := runes.Schema(ch.Environment().Unmet(schema))

	var con *construction.Construction
	if o.pinned {
		con, err = construction.ResolvePinned(p.registry, o.constructionID, remaining)
	} else {
		con, err = construction.Resolve(p.registry, remaining)
	}
	if err != nil {
		return nil, err
	}

	handle, err := ch.GenerateKey(ctx, con, schema)
	if err != nil {
		return nil, fmt.Errorf("bindrune: key generation failed: %w", err)
	}

	caps := con.Capabilities()
	b := &BindRune{
		con:        con,
		schema:     schema,
		ch:         ch,
		cdc:        p.cdc,
		handle:     handle,
		origin:     forgeOrigin(&o, schema),
		budget:     forgeBudget(schema, caps),
		dataBudget: forgeDataBudget(schema, caps),
		sizeLimit:  forgeSizeLimit(schema, caps),
		verifyErr:  verificationError(caps),
	}

	p.log.Info("Forged BindRune",
		slog.String("construction", con.Identifier().String()),
		slog.String("isolation", ch.Level().String()),
		slog.String("handle", handle.String()),
		slog.String("schema", schema.String()))
	return b, nil
}

// channelFor selects the channel for a forge request: the explicitly
// requested level, or the weakest registered channel whose level
// satisfies the schema's Isolation rune.
func (p *Provider) channelFor(o *forgeOptions, schema runes.Schema) (channel.IsolationChannel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if o.levelSet {
		ch, ok := p.channels[o.level]
		if !ok {
			return nil, fmt.Errorf("%w: level %s", ErrNoChannel, o.level)
		}
		return ch, nil
	}

	var required runes.IsolationLevel
	if r, ok := schema.Get(runes.KindIsolation); ok {
		required = r.(runes.Isolation).Level
	}
	for _, level := range p.levels {
		if level >= required {
			return p.channels[level], nil
		}
	}
	return nil, fmt.Errorf("%w: level %s or stronger", ErrNoChannel, required)
}

// forgeOrigin resolves the identity claim for sealed messages. An
// explicit option wins over the schema's Authentication rune.
func forgeOrigin(o *forgeOptions, schema runes.Schema) string {
	if o.origin != "" {
		return o.origin
	}
	if r, ok := schema.Get(runes.KindAuthentication); ok {
		return r.(runes.Authentication).Origin
	}
	return ""
}

// forgeBudget derives the message budget: the requested limit when the
// schema carries one, else the construction's own bound, else nil for
// unbounded.
func forgeBudget(schema, caps runes.Schema) *atomic.Uint64 {
	if r, ok := schema.Get(runes.KindMessageLimit); ok {
		return atomic.NewUint64(r.(runes.MessageLimit).Count)
	}
	if r, ok := caps.Get(runes.KindMessageLimit); ok {
		if limit := r.(runes.MessageLimit); !limit.Unbounded {
			return atomic.NewUint64(limit.Count)
		}
	}
	return nil
}

// forgeDataBudget derives the cumulative data budget the same way as
// forgeBudget.
func forgeDataBudget(schema, caps runes.Schema) *atomic.Uint64 {
	if r, ok := schema.Get(runes.KindTotalDataLimit); ok {
		return atomic.NewUint64(r.(runes.TotalDataLimit).Bytes)
	}
	if r, ok := caps.Get(runes.KindTotalDataLimit); ok {
		if limit := r.(runes.TotalDataLimit); !limit.Unbounded {
			return atomic.NewUint64(limit.Bytes)
		}
	}
	return nil
}

// forgeSizeLimit derives the per-message size bound the same way; zero
// means unbounded.
func forgeSizeLimit(schema, caps runes.Schema) uint64 {
	if r, ok := schema.Get(runes.KindMessageSizeLimit); ok {
		return r.(runes.MessageSizeLimit).Bytes
	}
	if r, ok := caps.Get(runes.KindMessageSizeLimit); ok {
		if limit := r.(runes.MessageSizeLimit); !limit.Unbounded {
			return limit.Bytes
		}
	}
	return 0
}
