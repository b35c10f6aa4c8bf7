// Package coprocess runs one evolutionary engine and its environment on a
// dedicated goroutine. The host talks to it only through messages: requests
// go in through Send, replies and unsolicited events come out of Events. No
// engine state is shared with the host; snapshots are detached copies.
package coprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baldhumanity/neatlab/env"
	"github.com/baldhumanity/neatlab/neat"
	"github.com/baldhumanity/neatlab/store"
)

var (
	// ErrRunning is returned for requests that need the unattended loop to be stopped.
	ErrRunning = errors.New("coprocess: evolution is running")
	// ErrClosed is returned by Send after the process has shut down.
	ErrClosed = errors.New("coprocess: closed")
)

const (
	defaultVisibleLimit = 12
	defaultEventBuffer  = 64
	inboxSize           = 16
)

// Recorder receives the history of every run. store.Store satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, run store.Run) error
	SaveGeneration(ctx context.Context, runID string, stats neat.GenerationStats) error
	SaveChampion(ctx context.Context, runID string, generation int, genome *neat.Genome) error
}

// EnvironmentFactory builds an environment by name.
type EnvironmentFactory func(name string, s env.Settings) (neat.Environment, error)

// Options configures a Process.
type Options struct {
	Config         neat.Config  // Base configuration, DefaultConfig if zero; INIT patches are applied on top
	Environment    string       // Default environment name
	EnvSettings    env.Settings // Default environment settings
	VisibleLimit   int          // Full genomes per snapshot, at most neat.MaxVisibleGenomes
	EventBuffer    int
	Logger         *slog.Logger
	Recorder       Recorder
	NewEnvironment EnvironmentFactory
}

// Process is a handle to a running co-process.
type Process struct {
	mu     sync.Mutex
	closed bool
	inbox  chan Request
	events chan Message
	done   chan struct{}
	cancel context.CancelFunc
}

// Start launches the co-process. It stops when ctx is cancelled or Close is called.
func Start(ctx context.Context, opts Options) *Process {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.NewEnvironment == nil {
		opts.NewEnvironment = env.New
	}
	if opts.Config == (neat.Config{}) {
		opts.Config = neat.DefaultConfig()
	}
	if opts.Environment == "" {
		opts.Environment = "xor"
	}
	if opts.VisibleLimit <= 0 {
		opts.VisibleLimit = defaultVisibleLimit
	}
	opts.VisibleLimit = min(opts.VisibleLimit, neat.MaxVisibleGenomes)
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Process{
		inbox:  make(chan Request, inboxSize),
		events: make(chan Message, opts.EventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	w := &worker{
		opts:        opts,
		envName:     opts.Environment,
		envSettings: opts.EnvSettings,
		inbox:       p.inbox,
		events:      p.events,
		logger:      opts.Logger,
	}
	go func() {
		defer close(p.done)
		defer close(p.events)
		w.loop(ctx)
	}()
	return p
}

// Send queues a request. It blocks while the inbox is full.
func (p *Process) Send(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- req:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Events returns the reply and event stream. It is closed when the process exits.
func (p *Process) Events() <-chan Message {
	return p.events
}

// Drain stops accepting requests, lets the worker answer the queued ones and
// waits for it to exit. The caller must keep reading Events.
func (p *Process) Drain() {
	p.closeInbox()
	<-p.done
}

// Close stops the process without waiting for queued requests. An in-flight
// generation is cancelled.
func (p *Process) Close() {
	p.closeInbox()
	p.cancel()
	<-p.done
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) closeInbox() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// worker owns the engine. Only the loop goroutine touches its fields.
type worker struct {
	opts        Options // Config and EnvSettings track the latest INIT and updates
	envName     string
	envSettings env.Settings
	inbox       <-chan Request
	events      chan<- Message
	logger      *slog.Logger

	environment neat.Environment
	engine      *neat.Engine
	running     bool
	runID       string
	bestSaved   *neat.Genome
}

func (w *worker) loop(ctx context.Context) {
	for {
		if w.running {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-w.inbox:
				if !ok {
					return
				}
				w.handle(ctx, req)
			default:
				w.runGeneration(ctx)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case req, ok := <-w.inbox:
			if !ok {
				return
			}
			w.handle(ctx, req)
		}
	}
}

// handle processes one request. Errors and panics become ERROR replies and
// leave the worker running.
func (w *worker) handle(ctx context.Context, req Request) {
	err := safely(func() error { return w.dispatch(ctx, req) })
	if err != nil {
		w.logger.Warn("request failed", "type", req.Type, "id", req.ID, "error", err)
		w.emit(ctx, Message{Type: TypeError, RequestID: req.ID, Message: err.Error()})
	}
}

// runGeneration advances the unattended loop by one generation. Any failure
// halts the loop until the next START.
func (w *worker) runGeneration(ctx context.Context) {
	err := safely(func() error { return w.evolve(ctx, "") })
	if err != nil {
		w.running = false
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("evolution halted", "error", err)
		w.emit(ctx, Message{Type: TypeError, Message: fmt.Sprintf("evolution halted: %v", err)})
		w.emit(ctx, w.status(""))
		return
	}
	runtime.Gosched()
}

// safely runs fn and converts a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (w *worker) dispatch(ctx context.Context, req Request) error {
	switch req.Type {
	case TypeInit:
		var payload InitPayload
		if err := req.decode(&payload); err != nil {
			return err
		}
		if err := w.build(ctx, payload); err != nil {
			return err
		}
		return w.reply(ctx, TypeInited, req.ID)

	case TypeReset:
		var payload InitPayload
		if err := req.decode(&payload); err != nil {
			return err
		}
		if err := w.build(ctx, payload); err != nil {
			return err
		}
		return w.reply(ctx, TypeReset, req.ID)

	case TypeStart:
		if w.engine == nil {
			return neat.ErrNotInitialized
		}
		w.running = true
		w.emit(ctx, w.status(req.ID))
		return nil

	case TypeStop:
		w.running = false
		w.emit(ctx, w.status(req.ID))
		return nil

	case TypeStep:
		if w.running {
			return ErrRunning
		}
		if w.engine == nil {
			return neat.ErrNotInitialized
		}
		return w.evolve(ctx, req.ID)

	case TypeUpdateConfig:
		var payload UpdatePayload
		if err := req.decode(&payload); err != nil {
			return err
		}
		return w.updateConfig(ctx, req.ID, payload)

	case TypeRequestGenome:
		var payload GenomeRequest
		if err := req.decode(&payload); err != nil {
			return err
		}
		return w.genomeDetails(ctx, req.ID, payload.ID)

	case TypeState:
		if w.engine == nil {
			return neat.ErrNotInitialized
		}
		return w.reply(ctx, TypeState, req.ID)

	default:
		return fmt.Errorf("unknown request type %q", req.Type)
	}
}

// build replaces the environment and engine. Settings not present in the
// payload are taken from the previous INIT.
func (w *worker) build(ctx context.Context, payload InitPayload) error {
	name := w.envName
	if payload.Environment != "" {
		name = payload.Environment
	}
	settings := w.envSettings
	if payload.Env != nil {
		settings = *payload.Env
	}
	config := w.opts.Config
	if payload.Config != nil {
		payload.Config.Apply(&config)
	}

	environment, err := w.opts.NewEnvironment(name, settings)
	if err != nil {
		return err
	}
	engine, err := neat.NewEngine(config, environment, neat.WithLogger(w.logger))
	if err != nil {
		return err
	}
	engine.InitPopulation()

	w.envName, w.envSettings, w.opts.Config = name, settings, engine.Config()
	w.environment, w.engine = environment, engine
	w.running = false
	w.bestSaved = nil
	w.runID = uuid.NewString()
	w.logger.Info("engine built", "run", w.runID, "environment", name, "population", w.opts.Config.Neat.PopulationSize)

	if w.opts.Recorder != nil {
		run := store.Run{ID: w.runID, Environment: name, StartedAt: time.Now().UTC(), Config: w.opts.Config}
		if err := w.opts.Recorder.CreateRun(ctx, run); err != nil {
			w.logger.Warn("failed to record run", "run", w.runID, "error", err)
		}
	}
	return nil
}

// evolve runs one generation and emits GENERATION_COMPLETE.
func (w *worker) evolve(ctx context.Context, requestID string) error {
	generation := w.engine.Generation()
	stats, err := w.engine.EvolveOneGeneration(ctx, func(evaluated, total int) {
		w.tryEmit(Message{
			Type:     TypeProgress,
			RunID:    w.runID,
			Progress: &Progress{Generation: generation, Evaluated: evaluated, Total: total},
		})
	})
	if err != nil {
		return err
	}
	w.record(ctx, stats)

	snap := w.snapshot()
	w.emit(ctx, Message{
		Type:      TypeGenerationComplete,
		RequestID: requestID,
		RunID:     w.runID,
		Snapshot:  &snap,
		Stats:     &stats,
	})
	return nil
}

func (w *worker) record(ctx context.Context, stats neat.GenerationStats) {
	if w.opts.Recorder == nil {
		return
	}
	if err := w.opts.Recorder.SaveGeneration(ctx, w.runID, stats); err != nil {
		w.logger.Warn("failed to record generation", "run", w.runID, "gen", stats.Generation, "error", err)
	}
	best := w.engine.Best()
	if best == nil || (w.bestSaved != nil && best.ID == w.bestSaved.ID && best.Fitness == w.bestSaved.Fitness) {
		return
	}
	if err := w.opts.Recorder.SaveChampion(ctx, w.runID, stats.Generation, best); err != nil {
		w.logger.Warn("failed to record champion", "run", w.runID, "error", err)
		return
	}
	w.bestSaved = best
}

func (w *worker) updateConfig(ctx context.Context, requestID string, payload UpdatePayload) error {
	if payload.Config != nil {
		if w.engine != nil {
			if w.engine.UpdateConfig(*payload.Config) {
				w.logger.Info("population re-initialized", "run", w.runID, "size", w.engine.Config().Neat.PopulationSize)
			}
			w.opts.Config = w.engine.Config()
		} else {
			payload.Config.Apply(&w.opts.Config)
		}
	}

	if payload.Env != nil {
		if reconfigurer, ok := w.environment.(env.Reconfigurer); ok {
			sizeChanged, err := reconfigurer.Configure(*payload.Env)
			if err != nil {
				return err
			}
			if w.engine != nil {
				w.engine.ResetBest()
			}
			if sizeChanged {
				msg := Message{Type: TypeEnvSizeUpdated, RequestID: requestID, RunID: w.runID}
				if sizer, ok := w.environment.(env.Sizer); ok {
					width, height := sizer.Size()
					msg.Size = &Size{Width: width, Height: height}
				}
				w.emit(ctx, msg)
			}
		}
		mergeSettings(&w.envSettings, *payload.Env)
	}

	if w.engine == nil {
		w.emit(ctx, Message{Type: TypeConfigUpdated, RequestID: requestID})
		return nil
	}
	return w.reply(ctx, TypeConfigUpdated, requestID)
}

// mergeSettings copies the non-zero fields of update into dst, so a later
// RESET rebuilds the environment with the edited world.
func mergeSettings(dst *env.Settings, update env.Settings) {
	if update.Seed != 0 {
		dst.Seed = update.Seed
	}
	if update.Trials != 0 {
		dst.Trials = update.Trials
	}
	if update.MaxSteps != 0 {
		dst.MaxSteps = update.MaxSteps
	}
	if update.Width != 0 {
		dst.Width = update.Width
	}
	if update.Height != 0 {
		dst.Height = update.Height
	}
	if update.Mode != "" {
		dst.Mode = update.Mode
	}
	if update.Obstacles != nil {
		dst.Obstacles = update.Obstacles
	}
	if update.Targets != nil {
		dst.Targets = update.Targets
	}
	if update.ReactionWindow != 0 {
		dst.ReactionWindow = update.ReactionWindow
	}
}

func (w *worker) genomeDetails(ctx context.Context, requestID string, id int) error {
	if w.engine == nil {
		return neat.ErrNotInitialized
	}
	genome, err := w.engine.Genome(id)
	if err != nil {
		return err
	}
	msg := Message{Type: TypeGenomeDetails, RequestID: requestID, RunID: w.runID, Genome: genome}
	if replayer, ok := w.environment.(env.Replayer); ok {
		msg.Replay = replayer.Replay(genome.Clone(genome.ID))
	}
	w.emit(ctx, msg)
	return nil
}

func (w *worker) snapshot() neat.Snapshot {
	snap := w.engine.Snapshot(w.opts.VisibleLimit)
	snap.Running = w.running
	return snap
}

func (w *worker) status(requestID string) Message {
	status := &Status{Running: w.running}
	if w.engine != nil {
		status.Generation = w.engine.Generation()
	}
	return Message{Type: TypeStatus, RequestID: requestID, RunID: w.runID, Status: status}
}

// reply emits a snapshot-carrying reply.
func (w *worker) reply(ctx context.Context, t MessageType, requestID string) error {
	snap := w.snapshot()
	w.emit(ctx, Message{Type: t, RequestID: requestID, RunID: w.runID, Snapshot: &snap})
	return nil
}

// emit delivers a message, blocking until the host reads it or ctx ends.
func (w *worker) emit(ctx context.Context, msg Message) {
	select {
	case w.events <- msg:
	case <-ctx.Done():
	}
}

// tryEmit delivers a message only if the event buffer has room. Used for
// progress, which may be called from evaluation goroutines.
func (w *worker) tryEmit(msg Message) {
	select {
	case w.events <- msg:
	default:
	}
}
