package mapping

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

type fakeSource struct {
	mux  sync.Mutex
	data string
	err  error
}

func (s *fakeSource) set(data string, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.data, s.err = data, err
}

func (s *fakeSource) Open() (io.ReadCloser, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

func (s *fakeSource) String() string {
	return "fake"
}

type brokenReader struct {
	data []byte
}

func (r *brokenReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, errors.New("device went away")
	}
	n := copy(b, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *brokenReader) Close() error { return nil }

type brokenSource struct{ data string }

func (s brokenSource) Open() (io.ReadCloser, error) {
	return &brokenReader{data: []byte(s.data)}, nil
}

func (s brokenSource) String() string { return "broken" }

type countingObserver struct {
	mux      sync.Mutex
	ok, fail int
}

func (o *countingObserver) ObserveRefresh(_ int, err error) {
	o.mux.Lock()
	defer o.mux.Unlock()
	if err != nil {
		o.fail++
	} else {
		o.ok++
	}
}

const twoRules = "eth0 fd00:1::/64 -> 2001:db8:1::/64\neth1 fd00:2::/64 -> 2001:db8:2::/64\n"

func newTestRefresher(src Source, buf *bytes.Buffer) *Refresher {
	return NewRefresher(&RefresherConfig{
		Source: src,
		Logger: log.NewWithOptions(buf, log.Options{Level: log.InfoLevel}),
	})
}

func TestRefreshLoadsRules(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	r := newTestRefresher(src, &buf)

	n, err := r.Refresh()
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if n != 2 || r.Store().Len() != 2 {
		t.Fatalf("Refresh loaded %d rules, store has %d, want 2", n, r.Store().Len())
	}
	if r.Store().LoadedAt().IsZero() {
		t.Fatalf("load time not recorded")
	}
	if c := strings.Count(buf.String(), "loaded NAT mappings"); c != 1 {
		t.Fatalf("load message logged %d times, want 1", c)
	}

	// Unchanged count is not logged again.
	if _, err := r.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if c := strings.Count(buf.String(), "loaded NAT mappings"); c != 1 {
		t.Fatalf("load message logged %d times after unchanged refresh, want 1", c)
	}
}

func TestRefreshKeepsStaleTable(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	obs := &countingObserver{}
	r := NewRefresher(&RefresherConfig{
		Source:   src,
		Logger:   log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel}),
		Observer: obs,
	})

	if _, err := r.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	src.set("", os.ErrNotExist)
	for i := 0; i < 5; i++ {
		_, err := r.Refresh()
		if !errors.Is(err, ErrSourceUnavailable) {
			t.Fatalf("Refresh error = %v, want ErrSourceUnavailable", err)
		}
	}
	if n := r.Store().Len(); n != 2 {
		t.Fatalf("store has %d rules after failed refresh, want 2", n)
	}
	var found bool
	r.Store().View(func(table *Table) {
		_, found = table.Find(func(rule Rule) bool {
			return rule.Internal == netip.MustParseAddr("fd00:2::")
		})
	})
	if !found {
		t.Fatalf("previously loaded rule is gone")
	}
	if c := strings.Count(buf.String(), "cannot read mapping source"); c != 1 {
		t.Fatalf("failure logged %d times, want 1", c)
	}
	if obs.fail != 5 || obs.ok != 1 {
		t.Fatalf("observer saw %d successes and %d failures, want 1 and 5", obs.ok, obs.fail)
	}

	src.set(twoRules, nil)
	for i := 0; i < 3; i++ {
		if _, err := r.Refresh(); err != nil {
			t.Fatalf("Refresh returned error: %v", err)
		}
	}
	if c := strings.Count(buf.String(), "mapping source readable again"); c != 1 {
		t.Fatalf("recovery logged %d times, want 1", c)
	}

	src.set("", os.ErrPermission)
	r.Refresh()
	if c := strings.Count(buf.String(), "cannot read mapping source"); c != 2 {
		t.Fatalf("second failure streak logged %d times in total, want 2", c)
	}
}

func TestRefreshReadErrorKeepsTable(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	store := NewStore()
	r := NewRefresher(&RefresherConfig{
		Source: src,
		Store:  store,
		Logger: log.NewWithOptions(&buf, log.Options{}),
	})
	if _, err := r.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	broken := NewRefresher(&RefresherConfig{
		Source: brokenSource{data: "eth9 fd00:9::/64 -> 2001:db8:9::/64\n"},
		Store:  store,
		Logger: log.NewWithOptions(&buf, log.Options{}),
	})
	if _, err := broken.Refresh(); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Refresh error = %v, want ErrSourceUnavailable", err)
	}
	if n := store.Len(); n != 2 {
		t.Fatalf("partially read source replaced the table: %d rules", n)
	}
}

func TestRefreshRejectsLoggedOnChange(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules + "bogus line\n"}
	r := newTestRefresher(src, &buf)

	for i := 0; i < 3; i++ {
		if n, err := r.Refresh(); err != nil || n != 2 {
			t.Fatalf("Refresh returned %d, %v", n, err)
		}
	}
	if c := strings.Count(buf.String(), "skipping malformed mapping line"); c != 1 {
		t.Fatalf("malformed line logged %d times, want 1", c)
	}

	src.set(twoRules+"another bogus line\n", nil)
	r.Refresh()
	if c := strings.Count(buf.String(), "skipping malformed mapping line"); c != 2 {
		t.Fatalf("changed malformed line logged %d times in total, want 2", c)
	}
}

func TestRefreshFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings")
	if err := os.WriteFile(path, []byte(twoRules), 0600); err != nil {
		t.Fatalf("can't write mapping file: %v", err)
	}
	var buf bytes.Buffer
	r := newTestRefresher(FileSource(path), &buf)
	if n, err := r.Refresh(); err != nil || n != 2 {
		t.Fatalf("Refresh returned %d, %v", n, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("can't remove mapping file: %v", err)
	}
	if _, err := r.Refresh(); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Refresh error = %v, want ErrSourceUnavailable", err)
	}
	if n := r.Store().Len(); n != 2 {
		t.Fatalf("store has %d rules after source removal, want 2", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	obs := &countingObserver{}
	r := NewRefresher(&RefresherConfig{
		Source:   src,
		Interval: 5 * time.Millisecond,
		Logger:   log.NewWithOptions(&buf, log.Options{}),
		Observer: obs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for r.Store().Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Run never loaded the table")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestConcurrentViewDuringRefresh(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	r := newTestRefresher(src, &buf)
	r.Refresh()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				r.Store().View(func(table *Table) {
					if n := table.Len(); n != 2 && n != 1 {
						t.Errorf("reader observed a table with %d rules", n)
					}
				})
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			src.set("eth0 fd00:1::/64 -> 2001:db8:1::/64\n", nil)
		} else {
			src.set(twoRules, nil)
		}
		r.Refresh()
	}
	close(stop)
	wg.Wait()
}

func TestRefreshFailureStreakIsQuietAtDebug(t *testing.T) {
	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	r := NewRefresher(&RefresherConfig{
		Source: src,
		Logger: log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel}),
	})
	if _, err := r.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	src.set("", os.ErrNotExist)
	r.Refresh()

	logged := buf.Len()
	for i := 0; i < 10; i++ {
		r.Refresh()
	}
	if buf.Len() != logged {
		t.Fatalf("repeated failures logged more output at debug level:\n%s", buf.String()[logged:])
	}

	src.set(twoRules, nil)
	r.Refresh()
	logged = buf.Len()
	for i := 0; i < 10; i++ {
		r.Refresh()
	}
	if buf.Len() != logged {
		t.Fatalf("unchanged refreshes logged output at debug level:\n%s", buf.String()[logged:])
	}
}

type blockingSnapshot struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSnapshot) Save([]Rule, time.Time) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func (s *blockingSnapshot) Load() ([]Rule, time.Time, error) {
	return nil, time.Time{}, ErrNoSnapshot
}

func TestRunWaitsForSnapshotWrite(t *testing.T) {
	snap := &blockingSnapshot{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRefresher(&RefresherConfig{
		Source:   &fakeSource{data: twoRules},
		Interval: 5 * time.Millisecond,
		Logger:   log.New(io.Discard),
		Snapshot: snap,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-snap.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run never saved a snapshot")
	}
	cancel()

	select {
	case <-done:
		t.Fatalf("Run returned while a snapshot write was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(snap.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after the snapshot write finished")
	}
}
