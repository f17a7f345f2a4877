package mapping

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultRefreshInterval = 5 * time.Second
)

var (
	ErrSourceUnavailable = errors.New("mapping source unavailable")
	ErrNoSnapshot        = errors.New("no mapping snapshot")
)

// Observer receives the outcome of every refresh pass.
type Observer interface {
	ObserveRefresh(rules int, err error)
}

// Snapshotter persists the last good table across restarts.
type Snapshotter interface {
	Save(rules []Rule, savedAt time.Time) error
	Load() (rules []Rule, savedAt time.Time, err error)
}

type RefresherConfig struct {
	Source   Source
	Store    *Store
	Interval time.Duration
	Logger   *log.Logger
	Observer Observer
	Snapshot Snapshotter
	Now      func() time.Time
}

func (cfg *RefresherConfig) populateDefaults() {
	if cfg.Source == nil {
		cfg.Source = FileSource(DefaultSourcePath)
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRefresh(int, error) {}

// Refresher periodically reloads the mapping source into a Store. A pass
// that cannot read the source leaves the stored table as it was.
type Refresher struct {
	source   Source
	store    *Store
	interval time.Duration
	logger   *log.Logger
	observer Observer
	snapshot Snapshotter
	now      func() time.Time

	mux         sync.Mutex
	failing     bool
	lastCount   int
	lastRejects []string
	lastSaved   []Rule
	saved       bool
}

func NewRefresher(cfg *RefresherConfig) *Refresher {
	cfg.populateDefaults()
	return &Refresher{
		source:   cfg.Source,
		store:    cfg.Store,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		snapshot: cfg.Snapshot,
		now:      cfg.Now,
	}
}

// Store returns the store this refresher writes to.
func (r *Refresher) Store() *Store {
	return r.store
}

// Refresh performs a single pass and returns the number of loaded rules.
func (r *Refresher) Refresh() (int, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	table, rejects, err := r.load()
	if err != nil {
		if !r.failing {
			r.logger.Warn("cannot read mapping source, keeping previous mappings",
				"source", r.source.String(), "rules", r.store.Len(), "error", err)
			r.failing = true
		}
		r.observer.ObserveRefresh(r.store.Len(), err)
		return 0, err
	}
	if r.failing {
		r.logger.Info("mapping source readable again", "source", r.source.String())
		r.failing = false
	}

	r.reportRejects(rejects)
	r.store.Replace(table, r.now())

	if n := table.Len(); n != r.lastCount {
		r.logger.Info("loaded NAT mappings", "count", n)
		r.lastCount = n
	}
	r.persist(table)
	r.observer.ObserveRefresh(table.Len(), nil)

	return table.Len(), nil
}

func (r *Refresher) load() (*Table, []*RuleError, error) {
	f, err := r.source.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	table, rejects, err := ParseTable(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, r.source.String(), err)
	}
	return table, rejects, nil
}

// reportRejects logs malformed lines, but only when the set of rejected
// lines differs from the previous pass.
func (r *Refresher) reportRejects(rejects []*RuleError) {
	current := make([]string, 0, len(rejects))
	for _, rej := range rejects {
		current = append(current, rej.Error())
	}
	if slices.Equal(current, r.lastRejects) {
		return
	}
	for _, rej := range rejects {
		r.logger.Warn("skipping malformed mapping line", "line", rej.Line, "reason", rej.Reason, "text", rej.Text)
	}
	r.lastRejects = current
}

func (r *Refresher) persist(table *Table) {
	if r.snapshot == nil {
		return
	}
	rules := table.Rules()
	if r.saved && slices.Equal(rules, r.lastSaved) {
		return
	}
	if err := r.snapshot.Save(rules, r.now()); err != nil {
		r.logger.Warn("unable to save mapping snapshot", "error", err)
		return
	}
	r.lastSaved, r.saved = rules, true
}

// Restore loads the persisted snapshot into the store.
func (r *Refresher) Restore() (int, error) {
	if r.snapshot == nil {
		return 0, ErrNoSnapshot
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	rules, savedAt, err := r.snapshot.Load()
	if err != nil {
		return 0, fmt.Errorf("can't restore mapping snapshot: %w", err)
	}
	r.store.Replace(NewTable(rules), savedAt)
	r.lastCount = len(rules)
	r.lastSaved, r.saved = rules, true
	r.logger.Info("restored NAT mappings from snapshot", "count", len(rules), "saved_at", savedAt.Format(time.RFC3339))
	r.observer.ObserveRefresh(len(rules), nil)

	return len(rules), nil
}

// Run refreshes on every interval tick until ctx is done. It returns only
// after the pass in progress, including its snapshot write, has finished.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh()
		}
	}
}
