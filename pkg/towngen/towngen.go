// towngen generator
// lays out the road grid, sidewalks, buildings, pedestrians and cars of the seagull town

package towngen

import (
	"fmt"
	"math"
	"math/rand"
)

var buildingColors = []int{0x8b4513, 0xa9a9a9, 0x4682b4, 0xdeb887}

type hatType struct {
	width, height, depth float64
	color                int
}

var hatTypes = []hatType{
	{0.6, 0.2, 0.6, 0xff0000},
	{0.8, 0.6, 0.8, 0x0000ff},
	{0.7, 0.3, 0.7, 0xffff00},
	{0.8, 0.4, 0.8, 0x800080},
	{0.5, 0.5, 0.5, 0x00ff00},
}

const (
	npcHeight = 0.75
	carHeight = 0.5
)

type Params struct {
	Size             float64
	Margin           float64
	RoadSpacing      float64
	RoadWidth        float64
	SidewalkWidth    float64
	BuildingAttempts int
	NpcCount         int
	CarCount         int
	NpcHatChance     float64
	NpcSpeedMin      float64
	NpcSpeedMax      float64
	CarSpeed         float64
}

func DefaultParams() Params {
	return Params{
		Size:             400,
		Margin:           20,
		RoadSpacing:      40,
		RoadWidth:        8,
		SidewalkWidth:    3,
		BuildingAttempts: 200,
		NpcCount:         50,
		CarCount:         20,
		NpcHatChance:     0.5,
		NpcSpeedMin:      0.05,
		NpcSpeedMax:      0.08,
		CarSpeed:         0.2,
	}
}

func (p Params) span() float64 {
	return p.Size/2 - p.Margin
}

type Hat struct {
	ID     string  `json:"id,omitempty" toml:"id,omitempty"`
	Width  float64 `json:"width" toml:"width"`
	Height float64 `json:"height" toml:"height"`
	Depth  float64 `json:"depth" toml:"depth"`
	Color  int     `json:"color" toml:"color"`
}

type Building struct {
	X      float64 `json:"x" toml:"x"`
	Y      float64 `json:"y" toml:"y"`
	Z      float64 `json:"z" toml:"z"`
	Width  float64 `json:"width" toml:"width"`
	Height float64 `json:"height" toml:"height"`
	Depth  float64 `json:"depth" toml:"depth"`
	Color  int     `json:"color" toml:"color"`
}

// Corridor is a road or sidewalk strip. Horizontal corridors run along x and
// sit at a fixed z; vertical ones run along z at a fixed x.
type Corridor struct {
	X            float64 `json:"x" toml:"x"`
	Z            float64 `json:"z" toml:"z"`
	IsHorizontal bool    `json:"isHorizontal" toml:"is_horizontal"`
}

// AxisCoord returns the fixed coordinate of the corridor.
func (c Corridor) AxisCoord() float64 {
	if c.IsHorizontal {
		return c.Z
	}
	return c.X
}

type Road = Corridor

type Sidewalk = Corridor

type NpcSeed struct {
	X            float64 `json:"x" toml:"x"`
	Y            float64 `json:"y" toml:"y"`
	Z            float64 `json:"z" toml:"z"`
	IsHorizontal bool    `json:"isHorizontal" toml:"is_horizontal"`
	SidewalkPos  float64 `json:"sidewalkPos" toml:"sidewalk_pos"`
	Direction    int     `json:"direction" toml:"direction"`
	Speed        float64 `json:"speed" toml:"speed"`
	ID           string  `json:"id" toml:"id"`
	Hat          *Hat    `json:"hat,omitempty" toml:"hat,omitempty"`
}

type CarSeed struct {
	X            float64 `json:"x" toml:"x"`
	Y            float64 `json:"y" toml:"y"`
	Z            float64 `json:"z" toml:"z"`
	IsHorizontal bool    `json:"isHorizontal" toml:"is_horizontal"`
	RoadPos      float64 `json:"roadPos" toml:"road_pos"`
	Direction    int     `json:"direction" toml:"direction"`
	Speed        float64 `json:"speed" toml:"speed"`
	Color        int     `json:"color" toml:"color"`
}

type World struct {
	Buildings []Building `json:"buildings" toml:"buildings"`
	Roads     []Road     `json:"roads" toml:"roads"`
	Sidewalks []Sidewalk `json:"sidewalks" toml:"sidewalks"`
	NPCs      []NpcSeed  `json:"npcs" toml:"npcs"`
	Cars      []CarSeed  `json:"cars" toml:"cars"`
}

type generator struct {
	params Params
	rng    *rand.Rand
	world  World
}

// Generate builds a world from the given seed. The same seed and params always
// yield the same world.
func Generate(seed uint32, params Params) (*World, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return GenerateWithRand(rand.New(rand.NewSource(int64(seed))), params), nil
}

func GenerateWithRand(rng *rand.Rand, params Params) *World {
	g := &generator{
		params: params,
		rng:    rng,
		world: World{
			Buildings: make([]Building, 0, params.BuildingAttempts),
			Roads:     make([]Road, 0),
			Sidewalks: make([]Sidewalk, 0),
			NPCs:      make([]NpcSeed, 0, params.NpcCount),
			Cars:      make([]CarSeed, 0, params.CarCount),
		},
	}

	g.layRoads()
	g.placeBuildings()
	g.seedNPCs()
	g.seedCars()

	return &g.world
}

func (p Params) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("world size must be positive")
	}
	if p.Margin < 0 || p.Margin*2 >= p.Size {
		return fmt.Errorf("world margin %.1f does not fit world size %.1f", p.Margin, p.Size)
	}
	if p.RoadSpacing <= 0 {
		return fmt.Errorf("road spacing must be positive")
	}
	if p.RoadWidth <= 0 || p.SidewalkWidth <= 0 {
		return fmt.Errorf("road and sidewalk widths must be positive")
	}
	if p.BuildingAttempts < 0 || p.NpcCount < 0 || p.CarCount < 0 {
		return fmt.Errorf("counts cannot be negative")
	}
	if p.NpcHatChance < 0 || p.NpcHatChance > 1 {
		return fmt.Errorf("npc hat chance must be between 0 and 1")
	}
	if p.NpcSpeedMin < 0 || p.NpcSpeedMax < p.NpcSpeedMin {
		return fmt.Errorf("invalid npc speed range [%.3f, %.3f]", p.NpcSpeedMin, p.NpcSpeedMax)
	}
	return nil
}

// randomColor draws a 24-bit RGB colour, white included.
func randomColor(rng *rand.Rand) int {
	return rng.Intn(0x1000000)
}

func (g *generator) layRoads() {
	span := g.params.span()
	offset := g.params.RoadWidth/2 + g.params.SidewalkWidth/2

	for c := -span; c <= span; c += g.params.RoadSpacing {
		g.world.Roads = append(g.world.Roads,
			Road{X: 0, Z: c, IsHorizontal: true},
			Road{X: c, Z: 0, IsHorizontal: false},
		)
		g.world.Sidewalks = append(g.world.Sidewalks,
			Sidewalk{X: 0, Z: c + offset, IsHorizontal: true},
			Sidewalk{X: 0, Z: c - offset, IsHorizontal: true},
			Sidewalk{X: c + offset, Z: 0, IsHorizontal: false},
			Sidewalk{X: c - offset, Z: 0, IsHorizontal: false},
		)
	}
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *generator) direction() int {
	if g.rng.Intn(2) == 0 {
		return 1
	}
	return -1
}

func (g *generator) placeBuildings() {
	span := g.params.span()

	for i := 0; i < g.params.BuildingAttempts; i++ {
		width := g.uniform(4, 14)
		depth := g.uniform(4, 14)
		height := g.uniform(10, 50)
		x := g.uniform(-span, span)
		z := g.uniform(-span, span)
		color := buildingColors[g.rng.Intn(len(buildingColors))]

		if !g.clear(x, z, width, depth) {
			continue
		}

		g.world.Buildings = append(g.world.Buildings, Building{
			X:      x,
			Y:      height / 2,
			Z:      z,
			Width:  width,
			Height: height,
			Depth:  depth,
			Color:  color,
		})
	}
}

func (g *generator) clear(x, z, width, depth float64) bool {
	for _, road := range g.world.Roads {
		if Intrudes(road, g.params.RoadWidth, x, z, width, depth) {
			return false
		}
	}
	for _, sidewalk := range g.world.Sidewalks {
		if Intrudes(sidewalk, g.params.SidewalkWidth, x, z, width, depth) {
			return false
		}
	}
	return true
}

// Intrudes reports whether a footprint centred on (x, z) enters the clearance
// zone of a corridor of the given width.
func Intrudes(c Corridor, corridorWidth, x, z, width, depth float64) bool {
	if c.IsHorizontal {
		return math.Abs(z-c.Z) < corridorWidth/2+depth/2
	}
	return math.Abs(x-c.X) < corridorWidth/2+width/2
}

func (g *generator) seedNPCs() {
	if len(g.world.Sidewalks) == 0 {
		return
	}
	span := g.params.span()

	for i := 0; i < g.params.NpcCount; i++ {
		sidewalk := g.world.Sidewalks[g.rng.Intn(len(g.world.Sidewalks))]
		free := g.uniform(-span, span)

		npc := NpcSeed{
			Y:            npcHeight,
			IsHorizontal: sidewalk.IsHorizontal,
			SidewalkPos:  sidewalk.AxisCoord(),
			Direction:    g.direction(),
			Speed:        g.uniform(g.params.NpcSpeedMin, g.params.NpcSpeedMax),
			ID:           fmt.Sprintf("npc_%d", i),
		}
		if sidewalk.IsHorizontal {
			npc.X, npc.Z = free, sidewalk.Z
		} else {
			npc.X, npc.Z = sidewalk.X, free
		}

		if g.rng.Float64() < g.params.NpcHatChance {
			ht := hatTypes[g.rng.Intn(len(hatTypes))]
			npc.Hat = &Hat{
				ID:     npc.ID + "-hat",
				Width:  ht.width,
				Height: ht.height,
				Depth:  ht.depth,
				Color:  ht.color,
			}
		}

		g.world.NPCs = append(g.world.NPCs, npc)
	}
}

func (g *generator) seedCars() {
	if len(g.world.Roads) == 0 {
		return
	}
	span := g.params.span()

	for i := 0; i < g.params.CarCount; i++ {
		road := g.world.Roads[g.rng.Intn(len(g.world.Roads))]
		free := g.uniform(-span, span)

		car := CarSeed{
			Y:            carHeight,
			IsHorizontal: road.IsHorizontal,
			RoadPos:      road.AxisCoord(),
			Direction:    g.direction(),
			Speed:        g.params.CarSpeed,
			Color:        randomColor(g.rng),
		}
		if road.IsHorizontal {
			car.X, car.Z = free, road.Z
		} else {
			car.X, car.Z = road.X, free
		}

		g.world.Cars = append(g.world.Cars, car)
	}
}
