// Package agent owns the polling loops that decide when generation
// jobs launch. A slot-check tick evaluates due-ness against the slot
// ledger and fires pipelines; a status tick recomputes display strings.
// De-duplication lives entirely in the ledger: a slot is marked
// consumed synchronously inside the check tick, before its pipeline
// starts, so a restart or a late tick can never double-launch it.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"oratio/internal/pipeline"
	"oratio/internal/retry"
	"oratio/internal/runtime/supervisor"
	"oratio/internal/schedule"
	"oratio/internal/storage"
	"oratio/internal/ticker"
	logx "oratio/pkg/logx"
)

// FamilyState is the live state of one job family.
type FamilyState string

const (
	StateDisabled FamilyState = "disabled"
	StateIdle     FamilyState = "idle"
	StateRunning  FamilyState = "running"
)

// FamilySettings are the operator-tunable knobs of a family.
type FamilySettings struct {
	Enabled bool
	Cadence int
}

type Config struct {
	CheckInterval  time.Duration // due-ness evaluation; default 30s
	StatusInterval time.Duration // display refresh; default 60s
	StartupDelay   time.Duration // first check delay; default 45s

	Long  FamilySettings
	Short FamilySettings

	Themes []pipeline.Theme
}

// Runner launches generation pipelines. Satisfied by
// pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, in pipeline.RunInput) (*pipeline.Artifact, error)
	RunBatch(ctx context.Context, tracks []schedule.Track, theme string, subthemes []string) ([]*pipeline.Artifact, error)
}

// Controller drives both families. All mutable state is guarded by mu;
// ledger writes happen only inside the check tick, which the ticker
// runs on a single worker, so ticks never race each other.
type Controller struct {
	log    logx.Logger
	cfg    Config
	reg    schedule.Registry
	store  storage.Store
	runner Runner
	sup    *supervisor.Supervisor
	notify func(string)

	now func() time.Time

	mu       sync.Mutex
	settings map[schedule.Kind]FamilySettings
	inFlight map[string]int // live run count per job id, display only
	status   map[schedule.Kind]string
}

func New(cfg Config, reg schedule.Registry, store storage.Store, runner Runner, sup *supervisor.Supervisor, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Minute
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if len(cfg.Themes) == 0 {
		cfg.Themes = pipeline.DefaultThemes()
	}
	return &Controller{
		log:    log,
		cfg:    cfg,
		reg:    reg,
		store:  store,
		runner: runner,
		sup:    sup,
		notify: func(string) {},
		now:    time.Now,
		settings: map[schedule.Kind]FamilySettings{
			schedule.KindLong:  cfg.Long,
			schedule.KindShort: cfg.Short,
		},
		inFlight: map[string]int{},
		status:   map[schedule.Kind]string{},
	}
}

// SetNotify installs the operator notification sink.
func (c *Controller) SetNotify(fn func(string)) {
	if fn != nil {
		c.notify = fn
	}
}

// AttachSupervisor sets the supervisor launched runs attach to. Must
// be called before Start when the supervisor is not known at
// construction time.
func (c *Controller) AttachSupervisor(sup *supervisor.Supervisor) {
	c.sup = sup
}

// Start loads persisted settings and registers the two timers. The
// check timer gets the startup delay so a restart on a borderline slot
// boundary settles before the first evaluation.
func (c *Controller) Start(ctx context.Context, tk *ticker.Service) error {
	if err := c.loadSettings(ctx); err != nil {
		return fmt.Errorf("agent: load settings: %w", err)
	}
	if err := tk.Add("agent.status", c.cfg.StatusInterval, 0, c.statusTick); err != nil {
		return err
	}
	if err := tk.Add("agent.check", c.cfg.CheckInterval, c.cfg.StartupDelay, c.checkTick); err != nil {
		return err
	}
	c.statusTick(ctx)
	c.log.Info("agent started",
		logx.Duration("check_interval", c.cfg.CheckInterval),
		logx.Duration("startup_delay", c.cfg.StartupDelay),
	)
	return nil
}

// ---- operator controls ----

// SetFamilyEnabled toggles a family. Disabling only stops future slot
// checks; in-flight runs finish.
func (c *Controller) SetFamilyEnabled(ctx context.Context, kind schedule.Kind, enabled bool) {
	c.mu.Lock()
	st := c.settings[kind]
	changed := st.Enabled != enabled
	st.Enabled = enabled
	c.settings[kind] = st
	c.mu.Unlock()
	if !changed {
		return
	}
	if err := c.store.PutSetting(ctx, settingEnabled(kind), strconv.FormatBool(enabled)); err != nil {
		c.log.Warn("persist family toggle failed", logx.String("family", string(kind)), logx.Err(err))
	}
	c.log.Info("family toggled", logx.String("family", string(kind)), logx.Bool("enabled", enabled))
	c.notify(fmt.Sprintf("family %s %s", kind, onOff(enabled)))
}

// SetCadence changes how many leading schedule hours are active.
func (c *Controller) SetCadence(ctx context.Context, kind schedule.Kind, cadence int) {
	if cadence < 0 {
		cadence = 0
	}
	c.mu.Lock()
	st := c.settings[kind]
	st.Cadence = cadence
	c.settings[kind] = st
	c.mu.Unlock()
	if err := c.store.PutSetting(ctx, settingCadence(kind), strconv.Itoa(cadence)); err != nil {
		c.log.Warn("persist cadence failed", logx.String("family", string(kind)), logx.Err(err))
	}
	c.log.Info("cadence changed", logx.String("family", string(kind)), logx.Int("cadence", cadence))
}

// State reports the family's live state.
func (c *Controller) State(kind schedule.Kind) FamilyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(kind)
}

func (c *Controller) stateLocked(kind schedule.Kind) FamilyState {
	if !c.settings[kind].Enabled {
		return StateDisabled
	}
	for id := range c.inFlight {
		if kindOfJob(id) == kind {
			return StateRunning
		}
	}
	return StateIdle
}

// Snapshot returns the display strings computed by the last status
// tick plus the live run set.
func (c *Controller) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for k, v := range c.status {
		out[string(k)] = v
	}
	jobs := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		jobs = append(jobs, id)
	}
	sort.Strings(jobs)
	for i, id := range jobs {
		out[fmt.Sprintf("running.%d", i)] = id
	}
	return out
}

// ---- ticks ----

// checkTick is the only writer of the slot ledger. It runs on the
// ticker's single worker, so marking a slot consumed and launching its
// run is atomic with respect to the next tick.
func (c *Controller) checkTick(ctx context.Context) {
	now := c.now()
	theme := pipeline.ThemeOfDay(c.cfg.Themes, now)

	c.checkLong(ctx, now, theme)
	c.checkShort(ctx, now, theme)
}

// checkLong consults only the anchor track; one due anchor slot fans
// out to every member language as a single batch.
func (c *Controller) checkLong(ctx context.Context, now time.Time, theme pipeline.Theme) {
	st := c.familySettings(schedule.KindLong)
	if !st.Enabled {
		return
	}
	anchor, ok := c.reg.Anchor(schedule.KindLong)
	if !ok {
		return
	}
	key, due := schedule.IsSlotDue(anchor, st.Cadence, now, c.consumed(ctx))
	if !due {
		return
	}
	if !c.consume(ctx, key, now) {
		return
	}
	tracks := append([]schedule.Track(nil), c.reg.Long...)
	c.launch(key, string(schedule.KindLong), func(runCtx context.Context) error {
		arts, err := c.runner.RunBatch(runCtx, tracks, theme.Name, theme.Subthemes)
		if len(arts) > 0 {
			c.notify(fmt.Sprintf("long-form batch %s: %d/%d languages done", theme.Name, len(arts), len(tracks)))
		}
		return err
	})
}

func (c *Controller) checkShort(ctx context.Context, now time.Time, theme pipeline.Theme) {
	st := c.familySettings(schedule.KindShort)
	if !st.Enabled {
		return
	}
	for _, tr := range c.reg.Short {
		tr := tr
		key, due := schedule.IsSlotDue(tr, st.Cadence, now, c.consumed(ctx))
		if !due {
			continue
		}
		if !c.consume(ctx, key, now) {
			continue
		}
		c.launch(key, jobID(tr), func(runCtx context.Context) error {
			art, err := c.runner.Run(runCtx, pipeline.RunInput{
				Track:     tr,
				Theme:     theme.Name,
				Subthemes: theme.Subthemes,
			})
			if art != nil {
				c.notify(fmt.Sprintf("short %s done: %s", tr.Language, art.ID))
			}
			return err
		})
	}
}

// statusTick refreshes display strings only; it never touches the
// ledger.
func (c *Controller) statusTick(ctx context.Context) {
	now := c.now()
	consumed := c.consumed(ctx)

	for _, kind := range []schedule.Kind{schedule.KindLong, schedule.KindShort} {
		st := c.familySettings(kind)
		var text string
		state := c.State(kind)
		switch {
		case state == StateDisabled:
			text = "disabled"
		case state == StateRunning:
			text = "running"
		default:
			anchor, ok := c.reg.Anchor(kind)
			if !ok {
				text = "idle"
				break
			}
			if p, ok := schedule.NextPendingSlot(anchor, st.Cadence, now, consumed); ok {
				text = "idle; next " + p.String()
			} else {
				text = "idle; nothing scheduled"
			}
		}
		c.mu.Lock()
		c.status[kind] = text
		c.mu.Unlock()
		c.log.Debug("family status", logx.String("family", string(kind)), logx.String("status", text))
	}
}

// ---- internals ----

func (c *Controller) familySettings(kind schedule.Kind) FamilySettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings[kind]
}

// consumed adapts the ledger for the resolver. A read failure reports
// the slot as consumed: suppressing one launch is recoverable at the
// next recurrence, a double launch is not.
func (c *Controller) consumed(ctx context.Context) schedule.ConsumedFunc {
	return func(key string) bool {
		done, err := c.store.SlotDone(ctx, key)
		if err != nil {
			c.log.Error("slot ledger read failed", logx.String("slot", key), logx.Err(err))
			return true
		}
		return done
	}
}

// consume marks the slot in the ledger. The mark happens-before the
// launch; a persistence failure aborts the launch entirely.
func (c *Controller) consume(ctx context.Context, key string, now time.Time) bool {
	if err := c.store.MarkSlotDone(ctx, key, now); err != nil {
		c.log.Error("mark slot consumed failed", logx.String("slot", key), logx.Err(err))
		return false
	}
	return true
}

// launch runs the job as a supervised goroutine so the tick returns
// immediately. A failed run only logs and notifies; the slot stays
// consumed until its next recurrence.
func (c *Controller) launch(slotKey, id string, run func(ctx context.Context) error) {
	c.mu.Lock()
	c.inFlight[id]++
	c.mu.Unlock()
	c.log.Info("slot launched", logx.String("slot", slotKey), logx.String("job", id))

	c.sup.Go0("run."+id, func(ctx context.Context) {
		err := run(ctx)

		// Counted, not keyed: successive ticks can launch two catch-up
		// slots of the same track, and the first completion must not
		// hide the second run.
		c.mu.Lock()
		if c.inFlight[id]--; c.inFlight[id] <= 0 {
			delete(c.inFlight, id)
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Error("generation run failed",
				logx.String("slot", slotKey),
				logx.String("job", id),
				logx.Bool("rate_limited", retry.IsRateLimited(err)),
				logx.Err(err),
			)
			c.notify(fmt.Sprintf("run %s failed: %v", id, err))
			return
		}
		c.log.Info("generation run finished", logx.String("slot", slotKey), logx.String("job", id))
	})
}

func (c *Controller) loadSettings(ctx context.Context) error {
	for _, kind := range []schedule.Kind{schedule.KindLong, schedule.KindShort} {
		st := c.familySettings(kind)

		if v, ok, err := c.store.GetSetting(ctx, settingEnabled(kind)); err != nil {
			return err
		} else if ok {
			if b, perr := strconv.ParseBool(v); perr == nil {
				st.Enabled = b
			}
		}
		if v, ok, err := c.store.GetSetting(ctx, settingCadence(kind)); err != nil {
			return err
		} else if ok {
			if n, perr := strconv.Atoi(v); perr == nil && n >= 0 {
				st.Cadence = n
			}
		}

		c.mu.Lock()
		c.settings[kind] = st
		c.mu.Unlock()
	}
	return nil
}

func settingEnabled(kind schedule.Kind) string { return "family." + string(kind) + ".enabled" }
func settingCadence(kind schedule.Kind) string { return "cadence." + string(kind) }

func jobID(tr schedule.Track) string { return string(tr.Kind) + "." + string(tr.Language) }

func kindOfJob(id string) schedule.Kind {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return schedule.Kind(id[:i])
		}
	}
	return schedule.Kind(id)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
