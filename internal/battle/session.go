// Package battle runs authoritative battle sessions. Each session is a single
// goroutine that owns its State; commands and timer ticks are serialized
// through one select loop.
package battle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/crownarena/server/internal/catalog"
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/protocol"
	"github.com/jonboulle/clockwork"
)

// Sender delivers a message to a participant's battle connection. It must be
// safe for concurrent use.
type Sender interface {
	Send(playerID, msgType string, data any)
}

// Listener is told how a session ended. Calls come from the session goroutine
// and must not block on the session.
type Listener interface {
	BattleEnded(result domain.BattleResult)
	BattleCancelled(battleID string, playerIDs []string, reason string)
	BattleDisposed(battleID string)
}

// Deps are the collaborators of a session.
type Deps struct {
	Catalog  catalog.Reader
	Sender   Sender
	Listener Listener
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdReady
	cmdPlaceCard
	cmdEmote
	cmdForfeit
	cmdDisconnect
	cmdSnapshot
	cmdDamageTower
)

type command struct {
	kind     commandKind
	playerID string
	card     domain.CardStats
	x, y     float64
	text     string
	amount   float64
	reply    chan error
	snapshot chan Snapshot
}

// Session is one running battle.
type Session struct {
	id     string
	deps   Deps
	cfg    Config
	logger *slog.Logger

	// Immutable after construction; read from caller goroutines.
	players map[string]Participant

	mailbox chan command
	done    chan struct{}

	// Owned by the run goroutine.
	state     *State
	regen     clockwork.Ticker
	sim       clockwork.Ticker
	deadline  clockwork.Timer
	phaseWait clockwork.Timer
	dispose   clockwork.Timer
	lastTick  time.Time
	reported  bool
	aborted   bool
}

// NewSession builds a session in the waiting phase. Call Start to run it.
func NewSession(id, matchID string, arena int, blue, red Participant, cfg Config, deps Deps) *Session {
	cfg = cfg.normalize()
	return &Session{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("battle_id", id),
		players: map[string]Participant{
			blue.PlayerID: blue,
			red.PlayerID:  red,
		},
		mailbox: make(chan command, cfg.MailboxSize),
		done:    make(chan struct{}),
		state:   NewState(id, matchID, arena, blue, red, cfg, deps.Clock.Now()),
	}
}

// ID returns the battle id.
func (s *Session) ID() string { return s.id }

// Done is closed once the session has been disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// IsParticipant reports whether playerID belongs to this battle.
func (s *Session) IsParticipant(playerID string) bool {
	_, ok := s.players[playerID]
	return ok
}

// Start launches the session goroutine. Cancelling ctx disposes the session.
func (s *Session) Start(ctx context.Context) {
	s.phaseWait = s.deps.Clock.NewTimer(s.cfg.JoinTimeout)
	go s.run(ctx)
}

// Join attaches playerID's connection. Non-participants get RoomFull.
func (s *Session) Join(ctx context.Context, playerID string) error {
	if !s.IsParticipant(playerID) {
		return domain.ErrRoomFull()
	}
	return s.call(ctx, command{kind: cmdJoin, playerID: playerID})
}

// Ready marks playerID ready. Ignored outside preparation.
func (s *Session) Ready(playerID string) {
	s.post(command{kind: cmdReady, playerID: playerID})
}

// PlaceCard validates deck membership and resolves the card in the caller's
// goroutine, then hands the placement to the session. Rejections are also
// reported to the player as card_error.
func (s *Session) PlaceCard(ctx context.Context, playerID, cardID string, x, y float64) error {
	p, ok := s.players[playerID]
	if !ok {
		return domain.ErrSessionNotFound(playerID)
	}
	cardID = domain.NormalizeCardID(cardID)
	if !slices.Contains(p.Deck, cardID) {
		return s.rejectCard(playerID, domain.ErrNotInDeck(cardID))
	}
	card, err := s.deps.Catalog.GetCardStats(ctx, cardID, p.Level)
	if err != nil {
		return s.rejectCard(playerID, err)
	}
	return s.call(ctx, command{kind: cmdPlaceCard, playerID: playerID, card: card, x: x, y: y})
}

func (s *Session) rejectCard(playerID string, err error) error {
	s.deps.Sender.Send(playerID, protocol.MsgCardError, protocol.CardErrorFrom(err))
	return err
}

// Emote relays an emote to the opponent.
func (s *Session) Emote(playerID, emote string) {
	s.post(command{kind: cmdEmote, playerID: playerID, text: emote})
}

// Forfeit concedes the battle. Idempotent.
func (s *Session) Forfeit(playerID string) {
	s.post(command{kind: cmdForfeit, playerID: playerID})
}

// Disconnect reports that playerID's connection dropped. Idempotent.
func (s *Session) Disconnect(playerID string) {
	s.post(command{kind: cmdDisconnect, playerID: playerID})
}

// DamageTower applies damage to a tower as if dealt by attacker. Used by
// admin tooling and tests.
func (s *Session) DamageTower(ctx context.Context, towerID string, dmg float64, attacker Side) error {
	return s.call(ctx, command{kind: cmdDamageTower, text: towerID, amount: dmg, playerID: string(attacker)})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if err := s.enqueue(ctx, command{kind: cmdSnapshot, snapshot: ch}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-s.done:
		return Snapshot{}, domain.ErrRoomNotFound(s.id)
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// post enqueues a fire-and-forget command.
func (s *Session) post(cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
	defer cancel()
	if err := s.enqueue(ctx, cmd); err != nil {
		s.logger.Debug("command dropped", "kind", cmd.kind, "player_id", cmd.playerID, "error", err)
	}
}

// call enqueues a command and waits for its reply.
func (s *Session) call(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	if err := s.enqueue(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return domain.ErrRoomNotFound(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-s.done:
		return domain.ErrRoomNotFound(s.id)
	default:
	}
	select {
	case s.mailbox <- cmd:
		return nil
	case <-s.done:
		return domain.ErrRoomNotFound(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		s.stopTimers()
		if s.dispose != nil {
			s.dispose.Stop()
		}
	}()
	defer func() {
		if s.deps.Listener != nil {
			s.deps.Listener.BattleDisposed(s.id)
		}
	}()

	s.logger.Info("battle session started", "players", s.state.PlayerIDs())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("battle session cancelled")
			s.safely(func() []Event { return s.state.Abort(s.now()) })
			return
		case cmd := <-s.mailbox:
			// Replies go out after delivery so callers observe their own events.
			err := error(domain.ErrInternal("battle aborted", nil))
			s.safely(func() []Event {
				var events []Event
				events, err = s.handle(cmd)
				return events
			})
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case <-tickerChan(s.regen):
			s.safely(func() []Event { s.state.Regen(); return nil })
		case now := <-tickerChan(s.sim):
			s.safely(func() []Event { return s.tick(now) })
		case now := <-timerChan(s.deadline):
			s.deadline = nil
			s.safely(func() []Event { return s.state.CheckTime(now) })
		case now := <-timerChan(s.phaseWait):
			s.phaseWait = nil
			s.safely(func() []Event { return s.phaseTimeout(now) })
		case <-timerChan(s.dispose):
			s.logger.Info("battle session disposed")
			return
		}
		if s.aborted {
			s.logger.Warn("battle session aborted")
			return
		}
		if s.reported && s.state.AllLeft() {
			s.logger.Info("battle session disposed, all players left")
			return
		}
	}
}

// safely runs fn and delivers its events. A panic aborts this session only.
func (s *Session) safely(fn func() []Event) {
	prev := s.state.Phase
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("battle session panic",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			s.deliver(s.state.Abort(s.now()))
			s.afterTransition(prev)
			s.aborted = true
		}
	}()
	s.deliver(fn())
	s.afterTransition(prev)
}

func (s *Session) handle(cmd command) ([]Event, error) {
	now := s.now()
	switch cmd.kind {
	case cmdJoin:
		return s.state.Join(cmd.playerID, now)
	case cmdReady:
		return s.state.Ready(cmd.playerID, now), nil
	case cmdPlaceCard:
		return s.state.PlaceCard(cmd.playerID, cmd.card, cmd.x, cmd.y)
	case cmdEmote:
		return s.state.Emote(cmd.playerID, cmd.text), nil
	case cmdForfeit:
		return s.state.Forfeit(cmd.playerID, now), nil
	case cmdDisconnect:
		return s.state.Disconnect(cmd.playerID, now), nil
	case cmdSnapshot:
		cmd.snapshot <- s.state.Snapshot(now)
	case cmdDamageTower:
		return s.state.DamageTower(cmd.text, cmd.amount, Side(cmd.playerID), now), nil
	}
	return nil, nil
}

func (s *Session) tick(now time.Time) []Event {
	dt := s.cfg.TickInterval
	if !s.lastTick.IsZero() {
		// A stalled loop must not turn into one huge simulation step.
		dt = min(now.Sub(s.lastTick), 5*s.cfg.TickInterval)
	}
	s.lastTick = now
	return s.state.Tick(now, dt)
}

func (s *Session) phaseTimeout(now time.Time) []Event {
	switch s.state.Phase {
	case PhaseWaiting:
		return s.state.JoinTimeout(now)
	case PhasePreparation:
		return s.state.ReadyTimeout(now)
	}
	return nil
}

// afterTransition reconciles timers with a phase change and reports the
// outcome once.
func (s *Session) afterTransition(prev Phase) {
	cur := s.state.Phase
	if cur == prev {
		return
	}
	s.logger.Info("battle phase changed", "from", prev, "to", cur)

	switch cur {
	case PhasePreparation:
		s.regen = s.deps.Clock.NewTicker(s.cfg.RegenInterval)
		s.resetPhaseWait(s.cfg.ReadyTimeout)
	case PhaseBattle:
		s.stopPhaseWait()
		if s.regen == nil {
			s.regen = s.deps.Clock.NewTicker(s.cfg.RegenInterval)
		}
		s.sim = s.deps.Clock.NewTicker(s.cfg.TickInterval)
		s.lastTick = s.now()
		s.resetDeadline(s.state.PhaseEndsAt.Sub(s.now()))
	case PhaseOvertime:
		s.resetDeadline(s.state.PhaseEndsAt.Sub(s.now()))
	case PhaseFinished:
		s.stopTimers()
		s.dispose = s.deps.Clock.NewTimer(s.cfg.Grace)
		s.report()
	}
}

func (s *Session) report() {
	if s.reported || s.deps.Listener == nil {
		s.reported = true
		return
	}
	s.reported = true

	if res, ok := s.state.Result(); ok {
		s.logger.Info("battle finished",
			"winner", res.Winner,
			"condition", res.Condition,
			"duration", res.Duration.String(),
		)
		s.deps.Listener.BattleEnded(res)
		return
	}
	s.logger.Info("battle cancelled", "reason", s.state.outcomeReason)
	s.deps.Listener.BattleCancelled(s.id, s.state.PlayerIDs(), s.state.outcomeReason)
}

func (s *Session) deliver(events []Event) {
	for _, ev := range events {
		recipients := ev.Recipients
		if len(recipients) == 0 {
			recipients = s.state.PlayerIDs()
		}
		for _, id := range recipients {
			s.deps.Sender.Send(id, ev.Type, ev.Payload)
		}
	}
}

func (s *Session) now() time.Time {
	return s.deps.Clock.Now()
}

func (s *Session) resetDeadline(d time.Duration) {
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.deadline = s.deps.Clock.NewTimer(max(d, 0))
}

func (s *Session) resetPhaseWait(d time.Duration) {
	s.stopPhaseWait()
	s.phaseWait = s.deps.Clock.NewTimer(d)
}

func (s *Session) stopPhaseWait() {
	if s.phaseWait != nil {
		s.phaseWait.Stop()
		s.phaseWait = nil
	}
}

func (s *Session) stopTimers() {
	if s.regen != nil {
		s.regen.Stop()
		s.regen = nil
	}
	if s.sim != nil {
		s.sim.Stop()
		s.sim = nil
	}
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	s.stopPhaseWait()
}

// tickerChan and timerChan return nil for inactive timers; a nil channel
// blocks forever in select.
func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}
