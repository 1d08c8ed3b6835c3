package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cognicore/mpingest/pkg/mpingest/decode"
	"github.com/cognicore/mpingest/pkg/mpingest/metrics"
	"github.com/cognicore/mpingest/pkg/mpingest/resolve"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

var (
	ErrNilStore    = errors.New("ingest: store is required")
	ErrNilTaxonomy = errors.New("ingest: taxonomy index is required")
)

// Mode selects which XML file an ingestion run reads.
type Mode string

const (
	ModeGroups Mode = "groups"
	ModeTopics Mode = "topics"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeGroups, ModeTopics:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeGroups, ModeTopics)
	}
}

// Summary describes one pass over an XML file.
type Summary struct {
	Mode     Mode
	Pass     int
	Records  int
	Linked   int
	Misses   int
	Duration time.Duration
}

// Engine drives ingestion of the MedlinePlus XML files into a store.
type Engine struct {
	store    store.Store
	index    *taxonomy.Index
	resolver *resolve.Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine writing to st and reconciling against idx.
func NewEngine(st store.Store, idx *taxonomy.Index, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if idx == nil {
		return nil, ErrNilTaxonomy
	}

	e := &Engine{
		store:    st,
		index:    idx,
		resolver: resolve.New(st),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "ingest")
	return e, nil
}

// Run ingests path according to mode.
func (e *Engine) Run(ctx context.Context, mode Mode, path string) ([]Summary, error) {
	switch mode {
	case ModeGroups:
		s, err := e.RunGroups(ctx, path)
		return []Summary{s}, err
	case ModeTopics:
		return e.RunTopics(ctx, path)
	default:
		_, err := ParseMode(string(mode))
		return nil, err
	}
}

// RunGroups stores the group classes of the taxonomy, then every group
// of the groups XML file.
func (e *Engine) RunGroups(ctx context.Context, path string) (Summary, error) {
	stats := &Stats{}
	start := time.Now()

	classes := &GroupClassIngester{base: e.base(stats)}
	for _, gc := range e.index.GroupClasses() {
		if _, err := classes.Ingest(ctx, gc.Name); err != nil {
			return Summary{}, err
		}
	}
	e.logger.Info("group classes stored", "count", stats.Records)

	*stats = Stats{}
	groups := &GroupIngester{base: e.base(stats)}
	if err := runPass(ctx, path, decode.GroupParser{}, groups); err != nil {
		return Summary{}, fmt.Errorf("ingest groups from %s: %w", path, err)
	}

	return e.finish(ModeGroups, 1, stats, start), nil
}

// RunTopics stores the body parts of the taxonomy, then reads the topics
// XML file twice: the first pass stores every topic without related-topic
// links, the second adds them once all targets exist.
func (e *Engine) RunTopics(ctx context.Context, path string) ([]Summary, error) {
	if err := e.ingestBodyParts(ctx); err != nil {
		return nil, err
	}

	var summaries []Summary
	for pass, includeLinks := range []bool{false, true} {
		s, err := e.RunTopicPass(ctx, path, includeLinks)
		if err != nil {
			return summaries, fmt.Errorf("topics pass %d: %w", pass+1, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// RunTopicPass makes a single pass over the topics XML file.
func (e *Engine) RunTopicPass(ctx context.Context, path string, includeLinks bool) (Summary, error) {
	pass := 1
	if includeLinks {
		pass = 2
	}
	e.logger.Info("starting topics pass", "pass", pass, "path", path, "related_links", includeLinks)

	stats := &Stats{}
	start := time.Now()
	topics := &TopicIngester{base: e.base(stats), IncludeLinks: includeLinks}
	if err := runPass(ctx, path, decode.TopicParser{}, topics); err != nil {
		return Summary{}, fmt.Errorf("ingest topics from %s: %w", path, err)
	}
	return e.finish(ModeTopics, pass, stats, start), nil
}

func (e *Engine) ingestBodyParts(ctx context.Context) error {
	stats := &Stats{}
	parts := &BodyPartIngester{base: e.base(stats)}
	for _, bp := range e.index.BodyParts() {
		if _, err := parts.Ingest(ctx, bp); err != nil {
			return err
		}
	}
	e.logger.Info("body parts stored", "count", stats.Records, "skipped", stats.Misses)
	return nil
}

func (e *Engine) base(stats *Stats) base {
	return base{
		store:    e.store,
		resolver: e.resolver,
		index:    e.index,
		metrics:  e.metrics,
		logger:   e.logger,
		stats:    stats,
	}
}

func (e *Engine) finish(mode Mode, pass int, stats *Stats, start time.Time) Summary {
	s := Summary{
		Mode:     mode,
		Pass:     pass,
		Records:  stats.Records,
		Linked:   stats.Linked,
		Misses:   stats.Misses,
		Duration: time.Since(start),
	}
	e.metrics.PassDone(string(mode), strconv.Itoa(pass), s.Duration)
	e.logger.Info("pass complete",
		"mode", mode,
		"pass", pass,
		"records", s.Records,
		"linked", s.Linked,
		"misses", s.Misses,
		"duration", s.Duration,
	)
	return s
}

// runPass streams every document of path through ing. The first decode or
// store error stops the pass.
func runPass[T any](ctx context.Context, path string, parser decode.Parser[T], ing Ingester[T]) error {
	stream, err := decode.Open(path, parser)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := ing.Ingest(ctx, stream.Document()); err != nil {
			return err
		}
	}
	return stream.Err()
}
