// Package pipeline runs one content-generation job to completion: a
// sequential chain of rate-limited remote calls producing a script, a
// social post, narrated audio and a visual, persisted as one artifact.
//
// Stages never overlap; the providers share one external rate limit
// and the pipeline deliberately trades throughput for staying inside
// it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"oratio/internal/retry"
	"oratio/internal/schedule"
	"oratio/internal/storage"
	logx "oratio/pkg/logx"
)

// Aspect ratios per job family.
const (
	aspectLong  = "16:9"
	aspectShort = "9:16"
)

var errEmptyResult = errors.New("unexpected empty result")

// Generator is the remote content-generation collaborator. Narration
// returns base64-encoded PCM (see audio.go for the fixed sample
// parameters). Implementations signal transient quota exhaustion via
// retry.RateLimited.
type Generator interface {
	Script(ctx context.Context, theme string, subthemes []string, lang schedule.Language, kind schedule.Kind) (string, error)
	Post(ctx context.Context, script, theme string, subthemes []string, lang schedule.Language, kind schedule.Kind) (Post, error)
	Narration(ctx context.Context, script string, voice string) ([]byte, error)
	Image(ctx context.Context, prompt, aspect string) ([]byte, error)
}

type Config struct {
	Voice       string
	CallsPerSec float64 // inter-call pacing; <=0 means 1 call/s
	Retry       retry.Policy
}

// Orchestrator owns the stage sequence for a single run. It is safe
// for concurrent use; each Run paces its remote calls through a shared
// limiter so overlapping runs of different tracks still respect the
// providers' combined limit.
type Orchestrator struct {
	gen     Generator
	store   storage.Store
	log     logx.Logger
	limiter *rate.Limiter
	policy  retry.Policy
	voice   string

	now func() time.Time
}

func New(cfg Config, gen Generator, store storage.Store, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	cps := cfg.CallsPerSec
	if cps <= 0 {
		cps = 1
	}
	pol := cfg.Retry
	if pol.Retries == 0 && pol.Base == 0 {
		pol = retry.DefaultPolicy()
	}
	return &Orchestrator{
		gen:     gen,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cps), 1),
		policy:  pol,
		voice:   cfg.Voice,
		now:     time.Now,
	}
}

// RunInput describes one job. SharedImage, when non-nil, is reused
// verbatim instead of generating a fresh visual (batch mode).
type RunInput struct {
	Track       schedule.Track
	Theme       string
	Subthemes   []string
	SharedImage []byte
}

// Run executes the full stage sequence and returns the persisted
// artifact. On any stage failure the run aborts without partial
// persistence and the error reports the failing stage.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*Artifact, error) {
	art, _, err := o.run(ctx, in)
	return art, err
}

// RunBatch runs one job per track, generating the visual once with the
// first track and reusing it for the rest, keeping the batch visually
// consistent and saving image quota. A failed member does not abort
// the remaining members.
func (o *Orchestrator) RunBatch(ctx context.Context, tracks []schedule.Track, theme string, subthemes []string) ([]*Artifact, error) {
	var (
		arts   []*Artifact
		shared []byte
		errs   []error
	)
	for _, tr := range tracks {
		art, img, err := o.run(ctx, RunInput{Track: tr, Theme: theme, Subthemes: subthemes, SharedImage: shared})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tr.Name(), err))
			continue
		}
		arts = append(arts, art)
		if shared == nil {
			shared = img
		}
	}
	return arts, errors.Join(errs...)
}

func (o *Orchestrator) run(ctx context.Context, in RunInput) (*Artifact, []byte, error) {
	tr := in.Track
	log := o.log.With(logx.String("track", tr.Name()), logx.String("theme", in.Theme))
	start := o.now()

	script, err := callStage(ctx, o, StageScript, func(ctx context.Context) (string, error) {
		return o.gen.Script(ctx, in.Theme, in.Subthemes, tr.Language, tr.Kind)
	})
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(script) == "" {
		return nil, nil, stageErr(StageScript, errEmptyResult)
	}

	post, err := callStage(ctx, o, StagePost, func(ctx context.Context) (Post, error) {
		return o.gen.Post(ctx, script, in.Theme, in.Subthemes, tr.Language, tr.Kind)
	})
	if err != nil {
		return nil, nil, err
	}

	encoded, err := callStage(ctx, o, StageNarration, func(ctx context.Context) ([]byte, error) {
		return o.gen.Narration(ctx, script, o.voice)
	})
	if err != nil {
		return nil, nil, err
	}
	pcm, err := decodeNarration(encoded)
	if err != nil {
		return nil, nil, stageErr(StageNarration, err)
	}
	wav := encodeWAV(pcm, audioChannels, audioSampleRate, audioBitDepth)

	// A non-nil but empty shared image is no image at all.
	image := in.SharedImage
	if len(image) == 0 {
		prompt := imagePrompt(in.Theme, post, script)
		image, err = callStage(ctx, o, StageImage, func(ctx context.Context) ([]byte, error) {
			return o.gen.Image(ctx, prompt, aspectFor(tr.Kind))
		})
		if err != nil {
			return nil, nil, err
		}
		if len(image) == 0 {
			return nil, nil, stageErr(StageImage, errEmptyResult)
		}
	}

	created := o.now()
	id := fmt.Sprintf("%d_%s_%s", created.UnixMilli(), tr.Language, tr.Kind)
	art := &Artifact{
		ID:        id,
		CreatedAt: created,
		Language:  tr.Language,
		Kind:      tr.Kind,
		Theme:     in.Theme,
		Subthemes: in.Subthemes,
		Script:    script,
		Post:      post,
		AudioKey:  id + ".wav",
		ImageKey:  id + ".png",
	}

	if err := o.persist(ctx, art, wav, image); err != nil {
		return nil, nil, stageErr(StagePersist, err)
	}

	log.Info("run complete",
		logx.String("artifact", art.ID),
		logx.Duration("took", o.now().Sub(start)),
		logx.Bool("shared_image", len(in.SharedImage) > 0),
	)
	return art, image, nil
}

func (o *Orchestrator) persist(ctx context.Context, art *Artifact, wav, image []byte) error {
	if err := o.store.PutBlob(ctx, art.AudioKey, wav); err != nil {
		return err
	}
	if err := o.store.PutBlob(ctx, art.ImageKey, image); err != nil {
		return err
	}
	return o.store.AppendHistory(ctx, art.historyRecord())
}

// callStage paces the remote call through the shared limiter, retries
// rate-limited failures, and tags the final error with the stage name.
func callStage[T any](ctx context.Context, o *Orchestrator, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := o.limiter.Wait(ctx); err != nil {
		return zero, stageErr(stage, err)
	}
	v, err := retry.Do(ctx, o.policy, fn)
	if err != nil {
		return zero, stageErr(stage, err)
	}
	return v, nil
}

func aspectFor(k schedule.Kind) string {
	if k == schedule.KindLong {
		return aspectLong
	}
	return aspectShort
}

// imagePrompt derives the visual prompt from the generated material.
// Kept deliberately plain; prompt engineering lives with the provider.
func imagePrompt(theme string, post Post, script string) string {
	parts := []string{theme}
	if t := strings.TrimSpace(post.Title); t != "" {
		parts = append(parts, t)
	}
	if s := strings.TrimSpace(script); s != "" {
		if len(s) > 200 {
			s = s[:200]
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " | ")
}
