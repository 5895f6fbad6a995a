// shared/models/kit.go
package models

import "fmt"

// ArenaType groups kits by the kind of arena they are played in.
type ArenaType string

const (
	// ArenaRestricted arenas forbid block placement and breaking.
	ArenaRestricted ArenaType = "RESTRICTED"
	// ArenaInteractive arenas allow the world to be modified.
	ArenaInteractive ArenaType = "INTERACTIVE"
)

// ArenaTypes lists every arena type; the duel server pools arenas for each.
var ArenaTypes = []ArenaType{ArenaRestricted, ArenaInteractive}

// KitType is the ruleset a match is played with.
type KitType string

const (
	KitUHC             KitType = "UHC"
	KitSword           KitType = "SWORD"
	KitMace            KitType = "MACE"
	KitCart            KitType = "CART"
	KitSMP             KitType = "SMP"
	KitNetheritePotion KitType = "NETHERITE_POTION"
	KitDiamondPotion   KitType = "DIAMOND_POTION"
	KitTNT             KitType = "TNT"
	KitSpleef          KitType = "SPLEEF"
	KitAxe             KitType = "AXE"
	KitCrystal         KitType = "CRYSTAL"
	KitDrain           KitType = "DRAIN"
	KitEval            KitType = "EVAL"
)

type kitInfo struct {
	displayName string
	arena       ArenaType
}

var kits = map[KitType]kitInfo{
	KitUHC:             {"UHC", ArenaInteractive},
	KitSword:           {"Sword", ArenaRestricted},
	KitMace:            {"Mace", ArenaRestricted},
	KitCart:            {"Cart", ArenaInteractive},
	KitSMP:             {"SMP", ArenaRestricted},
	KitNetheritePotion: {"Netherite Potion", ArenaRestricted},
	KitDiamondPotion:   {"Diamond Potion", ArenaRestricted},
	KitTNT:             {"TNT", ArenaInteractive},
	KitSpleef:          {"Spleef", ArenaInteractive},
	KitAxe:             {"Axe", ArenaRestricted},
	KitCrystal:         {"Custom Kit", ArenaInteractive},
	KitDrain:           {"Drain", ArenaInteractive},
	KitEval:            {"Evaluation", ArenaInteractive},
}

// KitTypes lists every kit in declaration order.
var KitTypes = []KitType{
	KitUHC, KitSword, KitMace, KitCart, KitSMP, KitNetheritePotion, KitDiamondPotion,
	KitTNT, KitSpleef, KitAxe, KitCrystal, KitDrain, KitEval,
}

// Valid reports whether k is a known kit.
func (k KitType) Valid() bool {
	_, ok := kits[k]
	return ok
}

// ArenaType is the arena type the kit is played in.
func (k KitType) ArenaType() ArenaType {
	return kits[k].arena
}

// DisplayName is the human readable kit name.
func (k KitType) DisplayName() string {
	if info, ok := kits[k]; ok {
		return info.displayName
	}
	return string(k)
}

// ParseKitType validates a kit name.
func ParseKitType(s string) (KitType, error) {
	k := KitType(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kit type %q", s)
	}
	return k, nil
}

// QueueType is the team format of a queue.
type QueueType string

const (
	QueueSolo QueueType = "SOLO"
	QueueDuo  QueueType = "DUO"
	QueueTrio QueueType = "TRIO"
)

// QueueTypes lists every queue format.
var QueueTypes = []QueueType{QueueSolo, QueueDuo, QueueTrio}

// TeamSize is the number of players per team, 0 for unknown types.
func (q QueueType) TeamSize() int {
	switch q {
	case QueueSolo:
		return 1
	case QueueDuo:
		return 2
	case QueueTrio:
		return 3
	}
	return 0
}

// TotalPlayers is the number of players needed to start a match.
func (q QueueType) TotalPlayers() int {
	return 2 * q.TeamSize()
}

// Valid reports whether q is a known queue type.
func (q QueueType) Valid() bool {
	return q.TeamSize() > 0
}

// ParseQueueType validates a queue type name.
func ParseQueueType(s string) (QueueType, error) {
	q := QueueType(s)
	if !q.Valid() {
		return "", fmt.Errorf("unknown queue type %q", s)
	}
	return q, nil
}
