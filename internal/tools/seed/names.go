package seed

import (
	"fmt"
	"strings"
)

var (
	campaignAdjectives = []string{"Sunless", "Shattered", "Gilded", "Drowned", "Whispering", "Ashen", "Hollow", "Crimson"}
	campaignNouns      = []string{"Keep", "Reach", "Crown", "Marches", "Vault", "Spire", "Coast", "Barrow"}
	mapNames           = []string{"Crypt", "Tavern", "Old Road", "Sewers", "Throne Room", "Harbor", "Mine Shaft", "Library"}
	heroNames          = []string{"Vex", "Orla", "Bram", "Ilya", "Tamsin", "Corin", "Nyx", "Hale", "Wren", "Dov"}
	playerHandles      = []string{"rogue", "bard", "cleric", "ranger", "wizard", "paladin", "monk", "druid"}
	markerLabels       = []string{"door", "trap", "chest", "goblin", "altar", "stairs", "torch", "well"}
)

// nameRegistry keeps generated names distinct within one seed run.
type nameRegistry struct {
	counts map[string]int
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{counts: make(map[string]int)}
}

func (r *nameRegistry) unique(base string) string {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return base
	}
	count := r.counts[trimmed]
	r.counts[trimmed] = count + 1
	if count == 0 {
		return trimmed
	}
	return fmt.Sprintf("%s-%d", trimmed, count+1)
}
