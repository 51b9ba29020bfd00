package battle

import "math"

// Side is the half of the arena a combatant defends. Blue is the bottom half.
type Side string

const (
	Blue Side = "blue"
	Red  Side = "red"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == Blue {
		return Red
	}
	return Blue
}

// Arena geometry in tiles. Y grows towards the blue (bottom) side.
const (
	ArenaWidth   = 18.0
	ArenaHeight  = 32.0
	CenterLine   = 16.0
	DeployMargin = 2.0 // rows a side may deploy past the center line
)

// CanDeploy reports whether side may place a card at (x, y).
func CanDeploy(side Side, x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || x > ArenaWidth {
		return false
	}
	if side == Blue {
		return y >= CenterLine-DeployMargin && y <= ArenaHeight
	}
	return y >= 0 && y <= CenterLine+DeployMargin
}

type TowerKind string

const (
	KingTower  TowerKind = "king"
	CrownTower TowerKind = "crown"
)

const (
	KingTowerHealth  = 4000.0
	CrownTowerHealth = 2500.0
	KingTowerDPS     = 110.0
	CrownTowerDPS    = 90.0
	TowerRange       = 7.0
)

type towerSpec struct {
	id   string
	side Side
	kind TowerKind
	x, y float64
}

// towerLayout is also the targeting tie-break order: left, right, king.
var towerLayout = []towerSpec{
	{"blue_left", Blue, CrownTower, 3.5, 25.5},
	{"blue_right", Blue, CrownTower, 14.5, 25.5},
	{"blue_king", Blue, KingTower, 9, 29},
	{"red_left", Red, CrownTower, 3.5, 6.5},
	{"red_right", Red, CrownTower, 14.5, 6.5},
	{"red_king", Red, KingTower, 9, 3},
}

// KingTowerID returns the king tower id of side.
func KingTowerID(side Side) string {
	return string(side) + "_king"
}

func distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}
