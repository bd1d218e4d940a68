// Package gamedata is the per-level probability and price table of the game.
// Strategies use it for costs and risk; the simulator uses it to roll results.
package gamedata

import "math"

// Level describes one enhancement level.
type Level struct {
	Success   float64 `json:"success"`
	Maintain  float64 `json:"maintain"`
	Destroy   float64 `json:"destroy"`
	Cost      int64   `json:"cost"`
	SellPrice int64   `json:"sell_price"`
}

// MaxLevel is the last row of the table. Enhancing there is impossible.
const MaxLevel = 20

var table = [MaxLevel + 1]Level{
	{0.995, 0.005, 0.000, 100, 50},
	{0.950, 0.050, 0.000, 200, 150},
	{0.900, 0.100, 0.000, 400, 350},
	{0.850, 0.150, 0.000, 800, 700},
	{0.800, 0.200, 0.000, 1500, 1200},
	{0.750, 0.250, 0.000, 3000, 2500},
	{0.700, 0.300, 0.000, 5000, 4000},
	{0.650, 0.350, 0.000, 10000, 8000},
	{0.600, 0.400, 0.000, 20000, 15000},
	{0.550, 0.450, 0.000, 40000, 30000},
	{0.500, 0.450, 0.050, 80000, 60000},
	{0.450, 0.400, 0.150, 150000, 120000},
	{0.400, 0.350, 0.250, 300000, 250000},
	{0.300, 0.300, 0.400, 500000, 500000},
	{0.200, 0.300, 0.500, 1000000, 1000000},
	{0.150, 0.250, 0.600, 2000000, 3000000},
	{0.100, 0.200, 0.700, 3000000, 5000000},
	{0.080, 0.170, 0.750, 5000000, 10000000},
	{0.060, 0.140, 0.800, 7000000, 20000000},
	{0.050, 0.100, 0.850, 10000000, 50000000},
	{0.000, 0.000, 0.000, 0, 100000000},
}

// At returns the row for level; out-of-range levels return the zero Level.
func At(level int) Level {
	if level < 0 || level > MaxLevel {
		return Level{}
	}
	return table[level]
}

func Cost(level int) int64      { return At(level).Cost }
func SellPrice(level int) int64 { return At(level).SellPrice }

// ExpectedValue is the expected gold change of one enhancement at level,
// measured against selling the item instead.
//
// Expectations:
//   - Returns -Inf for level >= MaxLevel or negative level
//   - Success gains the sell-price step minus cost
//   - Maintain loses the cost
//   - Destroy loses the cost and the current sell price
func ExpectedValue(level int) float64 {
	if level < 0 || level >= MaxLevel {
		return math.Inf(-1)
	}
	cur, next := table[level], table[level+1]
	cost := float64(cur.Cost)
	return cur.Success*(float64(next.SellPrice-cur.SellPrice)-cost) +
		cur.Maintain*(-cost) +
		cur.Destroy*(-float64(cur.SellPrice)-cost)
}
