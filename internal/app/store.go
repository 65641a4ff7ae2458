package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/mo"

	"podloop/internal/library"
	"podloop/internal/playback"
	"podloop/internal/watch"
)

var (
	// ErrStopped is returned once the Store's run loop has exited.
	ErrStopped = errors.New("store stopped")
	// ErrQueueFull is returned by TryDispatch when the action queue is full.
	ErrQueueFull = errors.New("action queue full")
	// ErrHistoryIndex is returned by TravelTo for an index outside the ledger.
	ErrHistoryIndex = errors.New("history index out of range")
)

// PlaybackControl is the playback façade effects are executed against.
// *playback.Controller satisfies it.
type PlaybackControl interface {
	Play(m playback.Media)
	TogglePlay()
	SeekTo(ms int64)
	Skip(seconds int)
	SetSpeed(x float64)
	StartSleepTimer(minutes int)
	Watch() (<-chan playback.State, func())
}

// Library is the persistence layer. *library.Store satisfies it.
type Library interface {
	Subscribe(ctx context.Context, url string) mo.Result[bool]
	Unsubscribe(url string) error
	AddToQueue(id string) error
	RemoveFromQueue(id string) error
	UpdateProgress(id string, positionMs int64) error
	LastPlayed() mo.Option[library.Episode]
	Download(ctx context.Context, id string) mo.Result[string]
	Sync(ctx context.Context) (int, error)
	AutoDownloadCandidates() ([]string, error)
	MarkOlderPlayed(id string) ([]string, error)
	Watch() (<-chan []library.Episode, func())
}

// ActionLog durably records dispatched actions. It must not block.
type ActionLog interface {
	RecordAction(kind string, payload []byte, failed bool)
}

// Options configures a Store.
type Options struct {
	HistoryCap    int
	ProgressEvery time.Duration
	QueueSize     int
	Logger        *slog.Logger
	ActionLog     ActionLog
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		HistoryCap:    50,
		ProgressEvery: 5 * time.Second,
		QueueSize:     256,
	}
}

// HistoryInfo describes the ledger for diagnostics.
type HistoryInfo struct {
	Size    int `json:"size"`
	Cap     int `json:"cap"`
	Cursor  int `json:"cursor"`
	Dropped int `json:"dropped"`
}

// Store owns the application state. Every mutation happens on the Run
// goroutine; other goroutines communicate with it through Dispatch and the
// query methods.
type Store struct {
	opts     Options
	logger   *slog.Logger
	playback PlaybackControl
	lib      Library

	actions chan Action
	queries chan func()
	stopped chan struct{}
	effects *effectQueue

	state *watch.Value[State]
	notes *watch.Feed[Notification]

	// Owned by Run.
	cur          State
	ledger       *Ledger
	cursor       int
	lastPlayback playback.State
	lastLibrary  []library.Episode
	saved        savedProgress
	wg           sync.WaitGroup
}

type savedProgress struct {
	id         string
	positionMs int64
}

// NewStore returns a Store in its initial state.
func NewStore(pb PlaybackControl, lib Library, opts Options) *Store {
	def := DefaultOptions()
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = def.HistoryCap
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = def.ProgressEvery
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	initial := InitialState()
	s := &Store{
		opts:         opts,
		logger:       opts.Logger,
		playback:     pb,
		lib:          lib,
		actions:      make(chan Action, opts.QueueSize),
		queries:      make(chan func()),
		stopped:      make(chan struct{}),
		effects:      newEffectQueue(),
		state:        watch.NewValue(initial),
		notes:        watch.NewFeed[Notification](16),
		cur:          initial,
		ledger:       NewLedger(opts.HistoryCap),
		lastPlayback: playback.InitialState(),
	}
	s.ledger.Record(initial)
	return s
}

// ============================================================================
// Public surface
// ============================================================================

// Dispatch queues a for the run loop. Actions from one caller are applied
// in the order they were dispatched. It blocks while the queue is full.
func (s *Store) Dispatch(a Action) error {
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	select {
	case s.actions <- a:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// TryDispatch is Dispatch without blocking.
func (s *Store) TryDispatch(a Action) error {
	select {
	case <-s.stopped:
		return ErrStopped
	case s.actions <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// Watch streams states, replaying the current one first.
func (s *Store) Watch() (<-chan State, func()) {
	return s.state.Watch()
}

// Current returns the last published state.
func (s *Store) Current() State {
	return s.state.Get()
}

// Notifications subscribes to user-facing messages.
func (s *Store) Notifications() (<-chan Notification, func()) {
	return s.notes.Subscribe()
}

// Snapshot returns the state as seen by the run loop, after every action
// dispatched before the call.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	var out State
	err := s.query(ctx, func() { out = s.cur })
	return out, err
}

// History describes the ledger.
func (s *Store) History(ctx context.Context) (HistoryInfo, error) {
	var out HistoryInfo
	err := s.query(ctx, func() {
		out = HistoryInfo{Size: s.ledger.Len(), Cap: s.ledger.Cap(), Cursor: s.cursor, Dropped: s.ledger.Dropped()}
	})
	return out, err
}

// HistoryAt returns ledger entry i.
func (s *Store) HistoryAt(ctx context.Context, i int) (State, error) {
	var (
		out State
		ok  bool
	)
	if err := s.query(ctx, func() { out, ok = s.ledger.At(i) }); err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, fmt.Errorf("%w: %d", ErrHistoryIndex, i)
	}
	return out, nil
}

// TravelTo makes ledger entry i the current state without recording it.
// Later dispatches append after the existing entries.
func (s *Store) TravelTo(ctx context.Context, i int) error {
	var ok bool
	if err := s.query(ctx, func() { ok = s.travel(i) }); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrHistoryIndex, i)
	}
	return nil
}

func (s *Store) query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case s.queries <- wrapped:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Run loop
// ============================================================================

// Run applies actions, queries and mirrored streams until ctx is done, then
// waits for in-flight effects.
func (s *Store) Run(ctx context.Context) error {
	defer func() {
		close(s.stopped)
		s.effects.close()
		s.wg.Wait()
		s.state.Close()
		s.notes.Close()
	}()

	pbCh, pbCancel := s.playback.Watch()
	defer pbCancel()
	libCh, libCancel := s.lib.Watch()
	defer libCancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runEffects(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case a := <-s.actions:
			s.apply(a)

		case q := <-s.queries:
			s.drainActions()
			q()

		case ps, ok := <-pbCh:
			if !ok {
				pbCh = nil
				continue
			}
			s.foldPlayback(ps)

		case items, ok := <-libCh:
			if !ok {
				libCh = nil
				continue
			}
			s.lastLibrary = items
			s.apply(LibraryUpdated{Items: items})
		}
	}
}

// drainActions applies every action already queued, so a query observes
// all dispatches that returned before it was issued.
func (s *Store) drainActions() {
	for len(s.actions) > 0 {
		s.apply(<-s.actions)
	}
}

func (s *Store) apply(a Action) {
	s.logAction(a)

	if rb, ok := a.(Rollback); ok {
		s.rewind(rb)
	}

	// The entry being viewed before this action, located independently of
	// any eviction the new record causes.
	prevCursor, prevEpoch := s.cursor, s.ledger.Dropped()

	res := Reduce(s.cur, a)
	if res.Unhandled {
		s.logger.Warn("unhandled action", "kind", a.Kind())
	}

	if !res.State.Equal(s.cur) {
		s.cur = res.State
		s.ledger.Record(res.State)
		s.cursor = s.ledger.Len() - 1
	}
	s.state.Set(s.cur)

	for _, eff := range res.Effects {
		if sub, ok := eff.(EffSubscribe); ok {
			sub.Index = prevCursor
			sub.Epoch = prevEpoch
			eff = sub
		}
		s.logger.Debug("effect queued", "effect", eff.String())
		s.effects.push(eff)
	}

	for _, n := range res.Notifications {
		if n.Kind == KindError {
			s.logger.Warn("notification", "kind", n.Kind, "text", n.Text)
		} else {
			s.logger.Info("notification", "kind", n.Kind, "text", n.Text)
		}
		if dropped := s.notes.Send(n); dropped > 0 {
			s.logger.Warn("notification dropped for slow subscribers", "count", dropped)
		}
	}
}

// rewind travels to the rollback point and re-applies the mirrors of
// external state that the snapshot may predate.
func (s *Store) rewind(rb Rollback) {
	i, ok := s.ledger.Resolve(rb.Index, rb.Epoch)
	if !ok {
		s.logger.Warn("rollback point evicted, removing placeholder only", "index", rb.Index, "epoch", rb.Epoch)
		return
	}
	s.travel(i)
	if s.lastLibrary != nil {
		s.cur = Reduce(s.cur, LibraryUpdated{Items: s.lastLibrary}).State
	}
	s.cur = FoldPlayback(s.cur, s.lastPlayback)
}

func (s *Store) travel(i int) bool {
	snap, ok := s.ledger.At(i)
	if !ok {
		return false
	}
	s.cur = snap
	s.cursor = i
	s.state.Set(s.cur)
	s.logger.Debug("traveled", "index", i)
	return true
}

// foldPlayback mirrors observed playback without recording history and
// schedules progress saves.
func (s *Store) foldPlayback(ps playback.State) {
	prev := s.lastPlayback
	s.lastPlayback = ps

	if next := FoldPlayback(s.cur, ps); !next.Equal(s.cur) {
		s.cur = next
		s.state.Set(s.cur)
	}

	switch {
	case prev.MediaID != "" && prev.MediaID != ps.MediaID:
		s.saveProgress(prev.MediaID, prev.PositionMs)
		s.saved = savedProgress{id: ps.MediaID, positionMs: ps.PositionMs}
	case ps.MediaID == "":
	case prev.IsPlaying && !ps.IsPlaying:
		s.saveProgress(ps.MediaID, ps.PositionMs)
	case s.saved.id != ps.MediaID:
		s.saved = savedProgress{id: ps.MediaID, positionMs: ps.PositionMs}
	case ps.IsPlaying && absDiff(ps.PositionMs, s.saved.positionMs) >= s.opts.ProgressEvery.Milliseconds():
		s.saveProgress(ps.MediaID, ps.PositionMs)
	}
}

func (s *Store) saveProgress(id string, positionMs int64) {
	s.saved = savedProgress{id: id, positionMs: positionMs}
	s.effects.push(EffSaveProgress{ID: id, PositionMs: positionMs})
}

func (s *Store) logAction(a Action) {
	switch a.(type) {
	case Seek, LibraryUpdated:
		return
	}
	s.logger.Debug("action", "kind", a.Kind())
	if s.opts.ActionLog == nil {
		return
	}
	payload, err := MarshalAction(a)
	if err != nil {
		s.logger.Warn("action log marshal failed", "kind", a.Kind(), "error", err)
		return
	}
	s.opts.ActionLog.RecordAction(a.Kind(), payload, isFailure(a))
}

func isFailure(a Action) bool {
	switch a := a.(type) {
	case Rollback, DownloadFailed:
		return true
	case SyncFinished:
		return a.Message != ""
	case Notify:
		return a.Error
	}
	return false
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
