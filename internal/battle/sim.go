package battle

import (
	"cmp"
	"slices"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/protocol"
)

const (
	moveStep     = 0.1 // fraction of the remaining distance covered per tick
	reachEpsilon = 0.5
)

// Regen adds one regen step of elixir to both combatants, clamped to max.
// Regeneration runs from preparation until the battle ends.
func (s *State) Regen() {
	if s.Phase != PhasePreparation && !s.Phase.Active() {
		return
	}
	amount := 1.0
	if s.Phase == PhaseOvertime {
		amount = s.cfg.OvertimeRegen
	}
	for _, c := range s.combatants {
		if c.Elixir >= c.MaxElixir {
			c.regen = 0
			continue
		}
		c.regen += amount
		whole := int(c.regen)
		c.regen -= float64(whole)
		c.Elixir = min(c.Elixir+whole, c.MaxElixir)
	}
}

// Tick advances the simulation by dt and evaluates win conditions.
func (s *State) Tick(now time.Time, dt time.Duration) []Event {
	if !s.Phase.Active() {
		return nil
	}
	secs := dt.Seconds()
	var events []Event

	// Units marked dying on the previous tick are removed now.
	for _, u := range s.sortedUnits() {
		if u.State == UnitDying {
			delete(s.units, u.ID)
			events = append(events, broadcast(protocol.MsgUnitDestroyed, protocol.UnitDestroyed{UnitID: u.ID}))
		}
	}

	for _, u := range s.sortedUnits() {
		if u.Building {
			continue
		}
		s.stepUnit(u, secs)
	}
	s.defend(secs)

	for _, u := range s.units {
		if u.Health <= 0 {
			u.Health = 0
			u.State = UnitDying
		}
	}

	if ev := s.checkVictory(now); ev != nil {
		return append(events, ev...)
	}
	return append(events, broadcast(protocol.MsgBattleState, s.Snapshot(now)))
}

func (s *State) stepUnit(u *Unit, secs float64) {
	if u.State == UnitDying {
		return
	}
	if u.TargetID != "" {
		if t := s.towers[u.TargetID]; t == nil || t.Destroyed {
			u.TargetID = ""
			u.State = UnitIdle
		}
	}

	switch u.State {
	case UnitIdle:
		t := s.nearestEnemyTower(u)
		if t == nil {
			return
		}
		u.TargetID = t.ID
		u.TargetX, u.TargetY = t.X, t.Y
		u.State = UnitWalking
	case UnitWalking:
		u.X += (u.TargetX - u.X) * moveStep
		u.Y += (u.TargetY - u.Y) * moveStep
		if distance(u.X, u.Y, u.TargetX, u.TargetY) <= max(u.Range, reachEpsilon) {
			u.State = UnitAttacking
		}
	case UnitAttacking:
		t := s.towers[u.TargetID]
		s.damageTower(t, u.Damage*secs, u.Side)
		if t.Destroyed {
			u.TargetID = ""
			u.State = UnitIdle
		}
	}
}

// nearestEnemyTower picks the closest live enemy tower. Ties resolve in
// layout order: left, right, king.
func (s *State) nearestEnemyTower(u *Unit) *Tower {
	var best *Tower
	bestDist := 0.0
	for _, slot := range towerLayout {
		t := s.towers[slot.id]
		if t.Side == u.Side || t.Destroyed {
			continue
		}
		d := distance(u.X, u.Y, t.X, t.Y)
		if best == nil || d < bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

// defend lets live towers and buildings shoot the nearest enemy unit in range.
func (s *State) defend(secs float64) {
	for _, slot := range towerLayout {
		t := s.towers[slot.id]
		if t.Destroyed {
			continue
		}
		dps := CrownTowerDPS
		if t.Kind == KingTower {
			dps = KingTowerDPS
		}
		if target := s.nearestEnemyUnit(t.Side, t.X, t.Y, TowerRange); target != nil {
			target.Health -= dps * secs
		}
	}
	for _, b := range s.sortedUnits() {
		if !b.Building || b.State == UnitDying {
			continue
		}
		if target := s.nearestEnemyUnit(b.Side, b.X, b.Y, b.Range); target != nil {
			target.Health -= b.Damage * secs
			b.State = UnitAttacking
		} else {
			b.State = UnitIdle
		}
	}
}

func (s *State) nearestEnemyUnit(side Side, x, y, reach float64) *Unit {
	var best *Unit
	bestDist := 0.0
	for _, u := range s.sortedUnits() {
		if u.Side == side || u.State == UnitDying || u.Health <= 0 {
			continue
		}
		d := distance(x, y, u.X, u.Y)
		if d > reach {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = u, d
		}
	}
	return best
}

// damageTower applies damage dealt by attacker and credits destroyed towers.
func (s *State) damageTower(t *Tower, dmg float64, attacker Side) {
	if t == nil || t.Destroyed || dmg <= 0 {
		return
	}
	t.Health -= dmg
	if t.Health > 0 {
		return
	}
	t.Health = 0
	t.Destroyed = true
	c := s.combatants[attacker]
	if t.Kind == KingTower {
		c.KingDestroyed = true
	} else {
		c.CrownsDestroyed++
	}
}

// DamageTower applies damage to a tower on behalf of attacker and evaluates
// win conditions immediately.
func (s *State) DamageTower(id string, dmg float64, attacker Side, now time.Time) []Event {
	if !s.Phase.Active() {
		return nil
	}
	s.damageTower(s.towers[id], dmg, attacker)
	return s.checkVictory(now)
}

// castSpell damages enemy units within the card's range. Spells obey the
// deploy zone like any card, which keeps every enemy tower out of reach.
func (s *State) castSpell(side Side, card domain.CardStats, x, y float64) {
	for _, u := range s.units {
		if u.Side != side && u.State != UnitDying && distance(x, y, u.X, u.Y) <= card.Range {
			u.Health -= card.Damage
		}
	}
}

// checkVictory ends the battle on a king kill, and resolves the timer once
// the phase deadline has passed.
func (s *State) checkVictory(now time.Time) []Event {
	if !s.Phase.Active() {
		return nil
	}
	if s.towers[KingTowerID(Blue)].Destroyed {
		return s.finish(Red, domain.ConditionTowers, now)
	}
	if s.towers[KingTowerID(Red)].Destroyed {
		return s.finish(Blue, domain.ConditionTowers, now)
	}
	if now.Before(s.PhaseEndsAt) {
		return nil
	}
	return s.resolveTime(now)
}

// CheckTime is driven by the hard deadline timer.
func (s *State) CheckTime(now time.Time) []Event {
	return s.checkVictory(now)
}

func (s *State) resolveTime(now time.Time) []Event {
	blue, red := s.score(Blue), s.score(Red)
	switch {
	case blue > red:
		return s.finish(Blue, domain.ConditionTime, now)
	case red > blue:
		return s.finish(Red, domain.ConditionTime, now)
	}

	if s.Phase == PhaseBattle && s.cfg.Overtime > 0 {
		s.Phase = PhaseOvertime
		s.PhaseEndsAt = now.Add(s.cfg.Overtime)
		return []Event{broadcast(protocol.MsgOvertimeStarted, protocol.OvertimeStarted{
			EndTime:  s.PhaseEndsAt.UnixMilli(),
			Duration: int(s.cfg.Overtime / time.Second),
		})}
	}

	if s.cfg.TiePolicy == TieHealth {
		bh, rh := s.towerHealth(Blue), s.towerHealth(Red)
		switch {
		case bh > rh:
			return s.finish(Blue, domain.ConditionTime, now)
		case rh > bh:
			return s.finish(Red, domain.ConditionTime, now)
		}
	}
	return s.finish("", domain.ConditionTime, now)
}

func (s *State) towerHealth(side Side) float64 {
	var hp float64
	for _, t := range s.towers {
		if t.Side == side {
			hp += t.Health
		}
	}
	return hp
}

// finish ends the battle. An empty winner side is a draw.
func (s *State) finish(winner Side, cond domain.WinCondition, now time.Time) []Event {
	if s.Phase == PhaseFinished {
		return nil
	}
	s.Phase = PhaseFinished
	s.EndedAt = now
	s.Condition = cond
	s.WinningSide = winner
	s.outcome = outcomeEnded
	if winner == "" {
		s.Winner = domain.DrawWinner
	} else {
		s.Winner = s.combatants[winner].PlayerID
	}

	return []Event{broadcast(protocol.MsgBattleEnded, protocol.BattleEnded{
		Winner:      s.Winner,
		WinningSide: string(winner),
		Condition:   string(cond),
		Duration:    int(s.elapsed(now) / time.Second),
		Crowns:      s.crowns(),
	})}
}

func (s *State) sortedUnits() []*Unit {
	out := make([]*Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *Unit) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Snapshot is the battle_state payload.
type Snapshot struct {
	BattleID      string           `json:"battleId"`
	Phase         Phase            `json:"gamePhase"`
	TimeRemaining int64            `json:"timeRemaining"` // millis in the current phase
	Combatants    []CombatantState `json:"players"`
	Towers        []TowerState     `json:"towers"`
	Units         []UnitView       `json:"units"`
}

type CombatantState struct {
	PlayerID        string `json:"playerId"`
	Side            Side   `json:"side"`
	Elixir          int    `json:"elixir"`
	MaxElixir       int    `json:"maxElixir"`
	Ready           bool   `json:"ready"`
	Left            bool   `json:"left"`
	CrownsDestroyed int    `json:"crownsDestroyed"`
	KingDestroyed   bool   `json:"kingDestroyed"`
}

type TowerState struct {
	ID        string    `json:"id"`
	Side      Side      `json:"side"`
	Kind      TowerKind `json:"kind"`
	Health    float64   `json:"health"`
	MaxHealth float64   `json:"maxHealth"`
	Destroyed bool      `json:"destroyed"`
}

type UnitView struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	Side      Side      `json:"side"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Health    float64   `json:"health"`
	MaxHealth float64   `json:"maxHealth"`
	State     UnitState `json:"state"`
	TargetID  string    `json:"targetId,omitempty"`
}

// Snapshot copies the state for broadcast; it shares nothing with the live maps.
func (s *State) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{BattleID: s.ID, Phase: s.Phase}
	if s.Phase.Active() {
		snap.TimeRemaining = max(s.PhaseEndsAt.Sub(now).Milliseconds(), 0)
	}
	for _, side := range []Side{Blue, Red} {
		c := s.combatants[side]
		snap.Combatants = append(snap.Combatants, CombatantState{
			PlayerID:        c.PlayerID,
			Side:            side,
			Elixir:          c.Elixir,
			MaxElixir:       c.MaxElixir,
			Ready:           c.Ready,
			Left:            c.Left,
			CrownsDestroyed: c.CrownsDestroyed,
			KingDestroyed:   c.KingDestroyed,
		})
	}
	for _, slot := range towerLayout {
		t := s.towers[slot.id]
		snap.Towers = append(snap.Towers, TowerState{
			ID: t.ID, Side: t.Side, Kind: t.Kind,
			Health: t.Health, MaxHealth: t.MaxHealth, Destroyed: t.Destroyed,
		})
	}
	for _, u := range s.sortedUnits() {
		snap.Units = append(snap.Units, UnitView{
			ID: u.ID, CardID: u.CardID, Side: u.Side,
			X: u.X, Y: u.Y, Health: u.Health, MaxHealth: u.MaxHealth,
			State: u.State, TargetID: u.TargetID,
		})
	}
	return snap
}
