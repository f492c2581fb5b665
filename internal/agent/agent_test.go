package agent

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"oratio/internal/pipeline"
	"oratio/internal/runtime/supervisor"
	"oratio/internal/schedule"
	"oratio/internal/storage"
	logx "oratio/pkg/logx"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    []pipeline.RunInput
	batches [][]schedule.Track
	err     error
	block   chan struct{} // when set, Run parks until closed
}

func (f *fakeRunner) Run(ctx context.Context, in pipeline.RunInput) (*pipeline.Artifact, error) {
	f.mu.Lock()
	f.runs = append(f.runs, in)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Artifact{ID: "art_" + string(in.Track.Language) + "_" + string(in.Track.Kind)}, nil
}

func (f *fakeRunner) RunBatch(ctx context.Context, tracks []schedule.Track, theme string, subthemes []string) ([]*pipeline.Artifact, error) {
	f.mu.Lock()
	f.batches = append(f.batches, tracks)
	f.mu.Unlock()
	out := make([]*pipeline.Artifact, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, &pipeline.Artifact{ID: "art_" + string(tr.Language)})
	}
	return out, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func waitIdle(t *testing.T, sup *supervisor.Supervisor) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for sup.Active() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("supervised jobs did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newController(t *testing.T, cfg Config, reg schedule.Registry, runner Runner) (*Controller, storage.Store, *supervisor.Supervisor) {
	t.Helper()
	st := newStore(t)
	sup := supervisor.New(context.Background())
	c := New(cfg, reg, st, runner, sup, logx.Nop())
	return c, st, sup
}

func shortOnly(tr schedule.Track) schedule.Registry {
	return schedule.Registry{Short: []schedule.Track{tr}}
}

func TestCheckTickLaunchesDueShortSlot(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("en"), Kind: schedule.KindShort, Hours: []int{9, 12, 18}}
	runner := &fakeRunner{}
	c, st, sup := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 2},
	}, shortOnly(tr), runner)

	now := time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if got := c.State(schedule.KindShort); got != StateIdle {
		t.Fatalf("state before tick = %s, want %s", got, StateIdle)
	}

	c.checkTick(context.Background())
	waitIdle(t, sup)

	if got := runner.runCount(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	key := schedule.SlotKey(time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), schedule.Language("en"), schedule.KindShort, 9, 0)
	for _, part := range []string{"en", "short", "|9|"} {
		if !strings.Contains(key, part) {
			t.Fatalf("slot key %q missing %q", key, part)
		}
	}
	done, err := st.SlotDone(context.Background(), key)
	if err != nil || !done {
		t.Fatalf("SlotDone(%q) = %v, %v; want true", key, done, err)
	}
	if got := c.State(schedule.KindShort); got != StateIdle {
		t.Fatalf("state after run = %s, want %s", got, StateIdle)
	}
}

func TestCheckTickIsIdempotentAcrossTicks(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("es"), Kind: schedule.KindShort, Hours: []int{9}}
	runner := &fakeRunner{}
	c, _, sup := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 1},
	}, shortOnly(tr), runner)

	now := time.Date(2025, time.March, 10, 9, 1, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		c.checkTick(context.Background())
		now = now.Add(30 * time.Second)
	}
	waitIdle(t, sup)

	if got := runner.runCount(); got != 1 {
		t.Fatalf("runs across ticks = %d, want 1", got)
	}
}

func TestDisabledFamilyNeverLaunches(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("en"), Kind: schedule.KindShort, Hours: []int{9}}
	runner := &fakeRunner{}
	c, _, sup := newController(t, Config{
		Short: FamilySettings{Enabled: false, Cadence: 1},
	}, shortOnly(tr), runner)
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC) }

	c.checkTick(context.Background())
	waitIdle(t, sup)

	if got := runner.runCount(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	if got := c.State(schedule.KindShort); got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
}

func TestRunningStateWhileJobInFlight(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("fr"), Kind: schedule.KindShort, Hours: []int{9}}
	runner := &fakeRunner{block: make(chan struct{})}
	c, _, sup := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 1},
	}, shortOnly(tr), runner)
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC) }

	c.checkTick(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for c.State(schedule.KindShort) != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("never entered running state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := c.Snapshot()
	if snap["running.0"] != "short.fr" {
		t.Fatalf("snapshot running set = %q, want short.fr", snap["running.0"])
	}

	close(runner.block)
	waitIdle(t, sup)

	if got := c.State(schedule.KindShort); got != StateIdle {
		t.Fatalf("state after completion = %s, want %s", got, StateIdle)
	}
}

type gatedRunner struct {
	gates chan chan struct{}
}

func (g *gatedRunner) Run(ctx context.Context, in pipeline.RunInput) (*pipeline.Artifact, error) {
	gate := make(chan struct{})
	select {
	case g.gates <- gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeline.Artifact{ID: "art"}, nil
}

func (g *gatedRunner) RunBatch(ctx context.Context, tracks []schedule.Track, theme string, subthemes []string) ([]*pipeline.Artifact, error) {
	return nil, nil
}

func TestOverlappingCatchUpRunsStayRunning(t *testing.T) {
	t.Parallel()

	// At 8:30 both the 6:00 and 7:00 slots sit inside the catch-up
	// window; successive ticks launch both under the same track.
	tr := schedule.Track{Language: schedule.Language("en"), Kind: schedule.KindShort, Hours: []int{6, 7}}
	runner := &gatedRunner{gates: make(chan chan struct{}, 2)}
	c, _, sup := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 2},
	}, shortOnly(tr), runner)
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 8, 30, 0, 0, time.UTC) }

	gate := func() chan struct{} {
		t.Helper()
		select {
		case g := <-runner.gates:
			return g
		case <-time.After(2 * time.Second):
			t.Fatal("run did not start")
			return nil
		}
	}

	c.checkTick(context.Background())
	first := gate()
	c.checkTick(context.Background())
	second := gate()

	close(first)
	deadline := time.Now().Add(2 * time.Second)
	for sup.Active() > 1 {
		if time.Now().After(deadline) {
			t.Fatal("first run did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := c.State(schedule.KindShort); got != StateRunning {
		t.Fatalf("state after first completion = %s, want %s while second run lives", got, StateRunning)
	}

	close(second)
	waitIdle(t, sup)
	if got := c.State(schedule.KindShort); got != StateIdle {
		t.Fatalf("state after both completions = %s, want %s", got, StateIdle)
	}
}

func TestLongFamilyAnchorsOneBatch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	reg := schedule.DefaultRegistry()
	c, st, sup := newController(t, Config{
		Long: FamilySettings{Enabled: true, Cadence: 3},
	}, reg, runner)
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 6, 2, 0, 0, time.UTC) }

	c.checkTick(context.Background())
	c.checkTick(context.Background())
	waitIdle(t, sup)

	runner.mu.Lock()
	batches := len(runner.batches)
	var langs int
	if batches > 0 {
		langs = len(runner.batches[0])
	}
	runner.mu.Unlock()

	if batches != 1 {
		t.Fatalf("batches = %d, want 1", batches)
	}
	if langs != len(reg.Long) {
		t.Fatalf("batch size = %d, want %d", langs, len(reg.Long))
	}

	anchor, _ := reg.Anchor(schedule.KindLong)
	key := schedule.SlotKey(time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), anchor.Language, anchor.Kind, 6, anchor.Minute)
	done, err := st.SlotDone(context.Background(), key)
	if err != nil || !done {
		t.Fatalf("anchor slot not consumed: %v, %v", done, err)
	}
}

func TestFailedRunLeavesSlotConsumed(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("en"), Kind: schedule.KindShort, Hours: []int{9}}
	runner := &fakeRunner{err: context.DeadlineExceeded}
	c, st, sup := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 1},
	}, shortOnly(tr), runner)
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 5, 0, 0, time.UTC) }

	c.checkTick(context.Background())
	waitIdle(t, sup)
	c.checkTick(context.Background())
	waitIdle(t, sup)

	if got := runner.runCount(); got != 1 {
		t.Fatalf("runs = %d, want 1 despite failure", got)
	}
	key := schedule.SlotKey(time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), schedule.Language("en"), schedule.KindShort, 9, 0)
	done, _ := st.SlotDone(context.Background(), key)
	if !done {
		t.Fatal("failed run must not release the slot")
	}
}

func TestSettingsPersistAcrossControllers(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	sup := supervisor.New(context.Background())
	reg := schedule.DefaultRegistry()

	c1 := New(Config{Short: FamilySettings{Enabled: true, Cadence: 3}}, reg, st, &fakeRunner{}, sup, logx.Nop())
	c1.SetFamilyEnabled(context.Background(), schedule.KindShort, false)
	c1.SetCadence(context.Background(), schedule.KindShort, 1)

	c2 := New(Config{Short: FamilySettings{Enabled: true, Cadence: 3}}, reg, st, &fakeRunner{}, sup, logx.Nop())
	if err := c2.loadSettings(context.Background()); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	got := c2.familySettings(schedule.KindShort)
	if got.Enabled || got.Cadence != 1 {
		t.Fatalf("restored settings = %+v, want disabled cadence 1", got)
	}
}

func TestStatusTickReportsNextPending(t *testing.T) {
	t.Parallel()

	tr := schedule.Track{Language: schedule.Language("en"), Kind: schedule.KindShort, Hours: []int{15}}
	c, _, _ := newController(t, Config{
		Short: FamilySettings{Enabled: true, Cadence: 1},
	}, shortOnly(tr), &fakeRunner{})
	c.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }

	c.statusTick(context.Background())

	snap := c.Snapshot()
	got := snap[string(schedule.KindShort)]
	if !strings.HasPrefix(got, "idle; next ") || !strings.Contains(got, "|en|short|15|") {
		t.Fatalf("status = %q, want pending 15:00 slot", got)
	}
	if snap[string(schedule.KindLong)] != "disabled" {
		t.Fatalf("long status = %q, want disabled", snap[string(schedule.KindLong)])
	}
}
