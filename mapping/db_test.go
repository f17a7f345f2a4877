package mapping

import (
	"bytes"
	"errors"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestSnapshotRoundTrip(t *testing.T) {
	snap, err := NewSQLiteSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("can't open snapshot DB: %v", err)
	}
	defer snap.Close()

	if _, _, err := snap.Load(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty DB returned %v, want ErrNoSnapshot", err)
	}

	rules := []Rule{
		{Interface: "eth1", Internal: netip.MustParseAddr("fd00:2::"), External: netip.MustParseAddr("2001:db8:2::"), Bits: 56},
		{Interface: "eth0", Internal: netip.MustParseAddr("fd00:1::"), External: netip.MustParseAddr("2001:db8:1::"), Bits: 64},
	}
	savedAt := time.Unix(1700000000, 42)
	if err := snap.Save(rules, savedAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := snap.Save(rules[:1], savedAt.Add(time.Second)); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if err := snap.Save(rules, savedAt); err != nil {
		t.Fatalf("third Save failed: %v", err)
	}

	got, gotAt, err := snap.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != len(rules) {
		t.Fatalf("loaded %d rules, want %d", len(got), len(rules))
	}
	for i := range rules {
		if got[i] != rules[i] {
			t.Fatalf("rule %d is %v, want %v", i, got[i], rules[i])
		}
	}
	if !gotAt.Equal(savedAt) {
		t.Fatalf("saved_at is %v, want %v", gotAt, savedAt)
	}
}

func TestRestoreWhenSourceMissing(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSQLiteSnapshot(dir)
	if err != nil {
		t.Fatalf("can't open snapshot DB: %v", err)
	}
	defer snap.Close()

	var buf bytes.Buffer
	src := &fakeSource{data: twoRules}
	first := NewRefresher(&RefresherConfig{
		Source:   src,
		Logger:   log.NewWithOptions(&buf, log.Options{}),
		Snapshot: snap,
	})
	if _, err := first.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	// A fresh daemon whose source is gone.
	src.set("", os.ErrNotExist)
	second := NewRefresher(&RefresherConfig{
		Source:   src,
		Logger:   log.NewWithOptions(&buf, log.Options{}),
		Snapshot: snap,
	})
	if _, err := second.Refresh(); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Refresh error = %v, want ErrSourceUnavailable", err)
	}
	n, err := second.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 2 || second.Store().Len() != 2 {
		t.Fatalf("restored %d rules, store has %d, want 2", n, second.Store().Len())
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	r := NewRefresher(&RefresherConfig{Source: &fakeSource{}})
	if _, err := r.Restore(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Restore returned %v, want ErrNoSnapshot", err)
	}
}
