package models

import "fmt"

type Region string

const (
	RegionNorthAmerica Region = "North America"
	RegionSouthAmerica Region = "South America"
	RegionEurope       Region = "Europe"
	RegionAfrica       Region = "Africa"
	RegionAsia         Region = "Asia"
	RegionMiddleEast   Region = "Middle East"
	RegionOceania      Region = "Oceania"
	RegionAntarctica   Region = "Antarctica"
)

// Regions is the fixed enumerated region domain, in rotation order.
var Regions = []Region{
	RegionNorthAmerica,
	RegionSouthAmerica,
	RegionEurope,
	RegionAfrica,
	RegionAsia,
	RegionMiddleEast,
	RegionOceania,
	RegionAntarctica,
}

type Mode string

const (
	ModeSolo      Mode = "Solo"
	ModeTeamRelay Mode = "Team Relay"
)

// Modes is the fixed enumerated mode domain, in rotation order.
var Modes = []Mode{ModeSolo, ModeTeamRelay}

// ParseRegion returns the Region matching s exactly.
func ParseRegion(s string) (Region, bool) {
	for _, r := range Regions {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// ParseMode returns the Mode matching s. "TeamRelay" is accepted as an
// alias of "Team Relay".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case string(ModeSolo):
		return ModeSolo, true
	case string(ModeTeamRelay), "TeamRelay":
		return ModeTeamRelay, true
	}
	return "", false
}

// Partition identifies one independent ranked set.
type Partition struct {
	Region Region `json:"region" bson:"region"`
	Mode   Mode   `json:"mode" bson:"mode"`
}

// Key is the cache key of the partition, e.g. "leaderboard:Europe:Solo".
func (p Partition) Key() string {
	return fmt.Sprintf("leaderboard:%s:%s", p.Region, p.Mode)
}

func (p Partition) String() string {
	return fmt.Sprintf("%s/%s", p.Region, p.Mode)
}

// AllPartitions enumerates every (region, mode) pair.
func AllPartitions() []Partition {
	out := make([]Partition, 0, len(Regions)*len(Modes))
	for _, r := range Regions {
		for _, m := range Modes {
			out = append(out, Partition{Region: r, Mode: m})
		}
	}
	return out
}
