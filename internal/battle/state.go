package battle

import (
	"fmt"
	"slices"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/protocol"
)

// Phase is the battle lifecycle state.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhasePreparation Phase = "preparation"
	PhaseBattle      Phase = "battle"
	PhaseOvertime    Phase = "overtime"
	PhaseFinished    Phase = "finished"
)

// Active reports whether cards may be played.
func (p Phase) Active() bool {
	return p == PhaseBattle || p == PhaseOvertime
}

// Event is an outbound message. Empty Recipients means both combatants.
type Event struct {
	Type       string
	Payload    any
	Recipients []string
}

func broadcast(msgType string, payload any) Event {
	return Event{Type: msgType, Payload: payload}
}

func direct(playerID, msgType string, payload any) Event {
	return Event{Type: msgType, Payload: payload, Recipients: []string{playerID}}
}

// Participant is a matched player as handed to a new session.
type Participant struct {
	PlayerID string
	UserID   string
	Username string
	Level    int
	Trophies int
	Deck     []string
}

// Combatant is a participant's in-battle record.
type Combatant struct {
	Participant
	Side            Side
	Elixir          int
	MaxElixir       int
	regen           float64 // fractional elixir carried between regen ticks
	Joined          bool
	Ready           bool
	Left            bool
	CrownsDestroyed int  // enemy crown towers this combatant destroyed
	KingDestroyed   bool // enemy king tower destroyed
}

// HasCard reports whether cardID is in the combatant's deck.
func (c *Combatant) HasCard(cardID string) bool {
	return slices.Contains(c.Deck, domain.NormalizeCardID(cardID))
}

// Tower is one of the six fixed towers.
type Tower struct {
	ID        string
	Side      Side
	Kind      TowerKind
	X, Y      float64
	Health    float64
	MaxHealth float64
	Destroyed bool
}

// UnitState is the movement state of a unit.
type UnitState string

const (
	UnitIdle      UnitState = "idle"
	UnitWalking   UnitState = "walking"
	UnitAttacking UnitState = "attacking"
	UnitDying     UnitState = "dying"
)

// Unit is a spawned troop or building.
type Unit struct {
	ID        string
	seq       int
	CardID    string
	Side      Side
	Owner     string
	Building  bool
	Health    float64
	MaxHealth float64
	Damage    float64 // per second
	Range     float64
	X, Y      float64
	TargetX   float64
	TargetY   float64
	TargetID  string
	State     UnitState
}

// outcomeKind records how a finished session ended.
type outcomeKind int

const (
	outcomeNone outcomeKind = iota
	outcomeEnded
	outcomeVoided
	outcomeAborted
)

// State is the authoritative battle state. It is owned by a single session
// goroutine and is not safe for concurrent use.
type State struct {
	ID      string
	MatchID string
	Arena   int
	cfg     Config

	Phase      Phase
	combatants map[Side]*Combatant
	towers     map[string]*Tower
	units      map[string]*Unit
	nextUnit   int

	CreatedAt     time.Time
	PreparedAt    time.Time
	StartedAt     time.Time
	PhaseEndsAt   time.Time
	EndedAt       time.Time
	Winner        string
	WinningSide   Side
	Condition     domain.WinCondition
	outcome       outcomeKind
	outcomeReason string
}

// NewState creates a session state in the waiting phase.
func NewState(id, matchID string, arena int, blue, red Participant, cfg Config, now time.Time) *State {
	cfg = cfg.normalize()
	s := &State{
		ID:         id,
		MatchID:    matchID,
		Arena:      arena,
		cfg:        cfg,
		Phase:      PhaseWaiting,
		combatants: make(map[Side]*Combatant, 2),
		towers:     make(map[string]*Tower, len(towerLayout)),
		units:      make(map[string]*Unit),
		CreatedAt:  now,
	}
	for side, p := range map[Side]Participant{Blue: blue, Red: red} {
		p.Deck = slices.Clone(p.Deck)
		s.combatants[side] = &Combatant{
			Participant: p,
			Side:        side,
			Elixir:      cfg.StartElixir,
			MaxElixir:   cfg.MaxElixir,
		}
	}
	s.resetTowers()
	return s
}

func (s *State) resetTowers() {
	for _, slot := range towerLayout {
		hp := CrownTowerHealth
		if slot.kind == KingTower {
			hp = KingTowerHealth
		}
		s.towers[slot.id] = &Tower{
			ID: slot.id, Side: slot.side, Kind: slot.kind,
			X: slot.x, Y: slot.y, Health: hp, MaxHealth: hp,
		}
	}
}

// Combatant returns the record for playerID, or nil.
func (s *State) Combatant(playerID string) *Combatant {
	for _, c := range s.combatants {
		if c.PlayerID == playerID {
			return c
		}
	}
	return nil
}

// Side returns the combatant on side.
func (s *State) Side(side Side) *Combatant {
	return s.combatants[side]
}

// Tower returns a tower by id, or nil.
func (s *State) Tower(id string) *Tower {
	return s.towers[id]
}

// Unit returns a unit by id, or nil.
func (s *State) Unit(id string) *Unit {
	return s.units[id]
}

// UnitCount returns the number of live or dying units.
func (s *State) UnitCount() int {
	return len(s.units)
}

// PlayerIDs returns blue then red.
func (s *State) PlayerIDs() []string {
	return []string{s.combatants[Blue].PlayerID, s.combatants[Red].PlayerID}
}

// Join marks playerID as connected. When both are connected the session
// moves to preparation.
func (s *State) Join(playerID string, now time.Time) ([]Event, error) {
	c := s.Combatant(playerID)
	if c == nil {
		return nil, domain.ErrRoomFull()
	}
	if s.Phase == PhaseFinished {
		return nil, domain.ErrRoomNotFound(s.ID)
	}
	c.Joined = true
	c.Left = false

	events := []Event{direct(playerID, protocol.MsgBattleInfo, s.info())}
	switch s.Phase {
	case PhaseWaiting:
		if s.combatants[Blue].Joined && s.combatants[Red].Joined {
			events = append(events, s.enterPreparation(now)...)
		}
	case PhaseBattle, PhaseOvertime:
		events = append(events, direct(playerID, protocol.MsgBattleStarted, s.startedPayload()))
	}
	return events, nil
}

func (s *State) enterPreparation(now time.Time) []Event {
	s.Phase = PhasePreparation
	s.PreparedAt = now
	s.resetTowers()
	return []Event{broadcast(protocol.MsgBattleState, s.Snapshot(now))}
}

// Ready records a ready command. Ignored outside preparation.
func (s *State) Ready(playerID string, now time.Time) []Event {
	c := s.Combatant(playerID)
	if c == nil || s.Phase != PhasePreparation || c.Ready {
		return nil
	}
	c.Ready = true
	events := []Event{broadcast(protocol.MsgPlayerReady, protocol.PlayerReady{PlayerID: playerID})}
	if s.combatants[Blue].Ready && s.combatants[Red].Ready {
		events = append(events, s.startBattle(now)...)
	}
	return events
}

// ReadyTimeout starts the battle even if a player never confirmed.
func (s *State) ReadyTimeout(now time.Time) []Event {
	if s.Phase != PhasePreparation {
		return nil
	}
	return s.startBattle(now)
}

// JoinTimeout voids a session whose opponent never connected.
func (s *State) JoinTimeout(now time.Time) []Event {
	if s.Phase != PhaseWaiting {
		return nil
	}
	return s.void("opponent did not join", now)
}

func (s *State) startBattle(now time.Time) []Event {
	s.Phase = PhaseBattle
	s.StartedAt = now
	s.PhaseEndsAt = now.Add(s.cfg.Duration)
	return []Event{broadcast(protocol.MsgBattleStarted, s.startedPayload())}
}

func (s *State) startedPayload() protocol.BattleStarted {
	return protocol.BattleStarted{
		StartTime: s.StartedAt.UnixMilli(),
		EndTime:   s.StartedAt.Add(s.cfg.Duration).UnixMilli(),
		Duration:  int(s.cfg.Duration / time.Second),
	}
}

func (s *State) info() protocol.BattleInfo {
	players := make([]protocol.BattlePlayer, 0, 2)
	for _, side := range []Side{Blue, Red} {
		c := s.combatants[side]
		players = append(players, protocol.BattlePlayer{
			PlayerID: c.PlayerID,
			UserID:   c.UserID,
			Username: c.Username,
			Side:     string(side),
			Trophies: c.Trophies,
			Level:    c.Level,
		})
	}
	return protocol.BattleInfo{
		BattleID: s.ID,
		Players:  players,
		Duration: int(s.cfg.Duration / time.Second),
		Overtime: int(s.cfg.Overtime / time.Second),
		Arena:    s.Arena,
	}
}

// PlaceCard applies an already resolved card. Deck membership and catalog
// lookup happen before the command reaches the session. Outside the active
// phases the command is ignored.
func (s *State) PlaceCard(playerID string, card domain.CardStats, x, y float64) ([]Event, error) {
	c := s.Combatant(playerID)
	if c == nil || !s.Phase.Active() {
		return nil, nil
	}
	if !c.HasCard(card.ID) {
		return s.rejectCard(playerID, domain.ErrNotInDeck(card.ID))
	}
	if c.Elixir < card.Cost {
		return s.rejectCard(playerID, domain.ErrInsufficientElixir(c.Elixir, card.Cost))
	}
	if !CanDeploy(c.Side, x, y) {
		return s.rejectCard(playerID, domain.ErrInvalidZone(x, y))
	}

	c.Elixir -= card.Cost

	var ids []string
	if card.Type == domain.CardSpell {
		s.castSpell(c.Side, card, x, y)
	} else {
		ids = s.spawn(c, card, x, y)
	}

	placed := broadcast(protocol.MsgCardPlaced, protocol.CardPlaced{
		PlayerID:        playerID,
		CardID:          card.ID,
		X:               x,
		Y:               y,
		UnitCount:       len(ids),
		UnitIDs:         ids,
		RemainingElixir: c.Elixir,
	})
	return []Event{placed}, nil
}

func (s *State) rejectCard(playerID string, err *domain.AppError) ([]Event, error) {
	return []Event{direct(playerID, protocol.MsgCardError, protocol.CardErrorFrom(err))}, err
}

const spawnOffset = 0.5

func (s *State) spawn(c *Combatant, card domain.CardStats, x, y float64) []string {
	count := max(card.Count, 1)
	ids := make([]string, 0, count)
	for i := range count {
		s.nextUnit++
		u := &Unit{
			ID:        fmt.Sprintf("u-%d", s.nextUnit),
			seq:       s.nextUnit,
			CardID:    card.ID,
			Side:      c.Side,
			Owner:     c.PlayerID,
			Building:  card.Type == domain.CardBuilding,
			Health:    card.Health,
			MaxHealth: card.Health,
			Damage:    card.Damage,
			Range:     card.Range,
			X:         min(x+spawnOffset*float64(i), ArenaWidth),
			Y:         y,
			State:     UnitIdle,
		}
		u.TargetX, u.TargetY = u.X, u.Y
		s.units[u.ID] = u
		ids = append(ids, u.ID)
	}
	return ids
}

// Emote relays a cosmetic emote to the opponent only.
func (s *State) Emote(playerID, emote string) []Event {
	c := s.Combatant(playerID)
	if c == nil || s.Phase == PhaseFinished || emote == "" {
		return nil
	}
	opp := s.combatants[c.Side.Opponent()]
	return []Event{direct(opp.PlayerID, protocol.MsgEmote, protocol.EmoteRequest{Emote: emote, PlayerID: playerID})}
}

// Forfeit ends the battle in the opponent's favour. Repeated forfeits and
// forfeits outside preparation/battle/overtime are ignored.
func (s *State) Forfeit(playerID string, now time.Time) []Event {
	c := s.Combatant(playerID)
	if c == nil {
		return nil
	}
	switch s.Phase {
	case PhasePreparation, PhaseBattle, PhaseOvertime:
		return s.finish(c.Side.Opponent(), domain.ConditionForfeit, now)
	}
	return nil
}

// Disconnect handles a dropped transport. During battle it is a forfeit;
// before the battle starts it voids the session.
func (s *State) Disconnect(playerID string, now time.Time) []Event {
	c := s.Combatant(playerID)
	if c == nil {
		return nil
	}
	c.Left = true
	switch s.Phase {
	case PhaseBattle, PhaseOvertime:
		return s.finish(c.Side.Opponent(), domain.ConditionForfeit, now)
	case PhaseWaiting, PhasePreparation:
		return s.void(fmt.Sprintf("player %s disconnected before the battle started", playerID), now)
	}
	return nil
}

// AllLeft reports whether both combatants have disconnected.
func (s *State) AllLeft() bool {
	return s.combatants[Blue].Left && s.combatants[Red].Left
}

func (s *State) void(reason string, now time.Time) []Event {
	s.Phase = PhaseFinished
	s.EndedAt = now
	s.outcome = outcomeVoided
	s.outcomeReason = reason
	return []Event{broadcast(protocol.MsgBattleVoided, protocol.BattleVoided{Reason: reason})}
}

// Abort terminates the session after an internal failure.
func (s *State) Abort(now time.Time) []Event {
	if s.Phase == PhaseFinished {
		return nil
	}
	s.Phase = PhaseFinished
	s.EndedAt = now
	s.outcome = outcomeAborted
	s.outcomeReason = "internal error"
	return []Event{broadcast(protocol.MsgError, protocol.Error{Message: "internal error", Code: domain.CodeInternal})}
}

// Result returns the battle result once the session ended normally.
func (s *State) Result() (domain.BattleResult, bool) {
	if s.outcome != outcomeEnded {
		return domain.BattleResult{}, false
	}
	blue, red := s.combatants[Blue], s.combatants[Red]
	res := domain.BattleResult{
		BattleID:         s.ID,
		MatchID:          s.MatchID,
		Winner:           s.Winner,
		WinningSide:      string(s.WinningSide),
		Condition:        s.Condition,
		Duration:         s.elapsed(s.EndedAt),
		Crowns:           s.crowns(),
		Participants:     []string{blue.PlayerID, red.PlayerID},
		ParticipantUsers: []string{blue.UserID, red.UserID},
		FinishedAt:       s.EndedAt,
	}
	if !res.IsDraw() {
		winner := s.combatants[s.WinningSide]
		loser := s.combatants[s.WinningSide.Opponent()]
		res.WinnerUserID = winner.UserID
		res.LoserUserID = loser.UserID
	}
	return res, true
}

func (s *State) elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// crowns returns the weighted score per player id.
func (s *State) crowns() map[string]int {
	return map[string]int{
		s.combatants[Blue].PlayerID: s.score(Blue),
		s.combatants[Red].PlayerID:  s.score(Red),
	}
}

// score weights a king kill as 3 crowns and each crown tower as 1.
func (s *State) score(side Side) int {
	c := s.combatants[side]
	n := c.CrownsDestroyed
	if c.KingDestroyed {
		n += 3
	}
	return n
}
