package domain

// Arena is a trophy-range progression bracket.
type Arena struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	MinTrophies int    `json:"minTrophies"`
}

// Arenas is ordered by MinTrophies ascending.
var Arenas = []Arena{
	{ID: 1, Name: "Goblin Stadium", MinTrophies: 0},
	{ID: 2, Name: "Bone Pit", MinTrophies: 300},
	{ID: 3, Name: "Barbarian Bowl", MinTrophies: 600},
	{ID: 4, Name: "Spell Valley", MinTrophies: 1000},
	{ID: 5, Name: "Builder's Workshop", MinTrophies: 1300},
	{ID: 6, Name: "Royal Arena", MinTrophies: 1600},
	{ID: 7, Name: "Frozen Peak", MinTrophies: 2000},
	{ID: 8, Name: "Jungle Arena", MinTrophies: 2300},
	{ID: 9, Name: "Hog Mountain", MinTrophies: 2600},
	{ID: 10, Name: "Electro Valley", MinTrophies: 3000},
	{ID: 11, Name: "Legendary Arena", MinTrophies: 4000},
}

// ArenaForTrophies returns the highest arena whose threshold is reached.
func ArenaForTrophies(trophies int) Arena {
	current := Arenas[0]
	for _, a := range Arenas {
		if trophies >= a.MinTrophies {
			current = a
		}
	}
	return current
}

// ArenaByID looks up an arena tier.
func ArenaByID(id int) (Arena, bool) {
	for _, a := range Arenas {
		if a.ID == id {
			return a, true
		}
	}
	return Arena{}, false
}

// NextArena returns the tier after id, if any.
func NextArena(id int) (Arena, bool) {
	for i, a := range Arenas {
		if a.ID == id && i+1 < len(Arenas) {
			return Arenas[i+1], true
		}
	}
	return Arena{}, false
}
