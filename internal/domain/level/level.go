// Package level maps an accumulated experience total onto a discrete level.
package level

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTable is returned for empty or non-monotonic level tables.
var ErrInvalidTable = errors.New("invalid level table")

// Threshold is one row of the level table.
type Threshold struct {
	MinXP int64  `koanf:"min_xp" json:"min_xp" yaml:"min_xp"`
	Level int    `koanf:"level" json:"level" yaml:"level"`
	Title string `koanf:"title" json:"title" yaml:"title"`
	Icon  string `koanf:"icon" json:"icon" yaml:"icon"`
}

// Info describes where an experience total sits in the table.
type Info struct {
	Level       int    `json:"level"`
	Title       string `json:"title"`
	Icon        string `json:"icon"`
	XP          int64  `json:"xp"`
	XPIntoLevel int64  `json:"xp_into_level"`
	XPForNext   int64  `json:"xp_for_next"` // span of the current level, 0 at max level
	XPToNext    int64  `json:"xp_to_next"`
	MaxLevel    bool   `json:"max_level"`
}

// Table is an immutable, validated level table.
type Table struct {
	rows []Threshold
}

// DefaultThresholds is the beer-themed ladder.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{MinXP: 0, Level: 1, Title: "Novice", Icon: "🍼"},
		{MinXP: 100, Level: 2, Title: "Taster", Icon: "🍺"},
		{MinXP: 300, Level: 3, Title: "Enthusiast", Icon: "🍻"},
		{MinXP: 700, Level: 4, Title: "Connoisseur", Icon: "🥂"},
		{MinXP: 1500, Level: 5, Title: "Cicerone", Icon: "🎓"},
		{MinXP: 3000, Level: 6, Title: "Brewmaster", Icon: "🏅"},
		{MinXP: 6000, Level: 7, Title: "Legend", Icon: "👑"},
	}
}

// DefaultTable returns the validated default table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultThresholds())
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates rows and builds a Table. Rows must be non-empty with
// strictly increasing MinXP and Level, and the first MinXP must not be negative.
func NewTable(rows []Threshold) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no thresholds", ErrInvalidTable)
	}
	if rows[0].MinXP < 0 {
		return nil, fmt.Errorf("%w: negative min_xp %d", ErrInvalidTable, rows[0].MinXP)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].MinXP <= rows[i-1].MinXP {
			return nil, fmt.Errorf("%w: min_xp not increasing at row %d", ErrInvalidTable, i)
		}
		if rows[i].Level <= rows[i-1].Level {
			return nil, fmt.Errorf("%w: level not increasing at row %d", ErrInvalidTable, i)
		}
	}
	return &Table{rows: append([]Threshold(nil), rows...)}, nil
}

// Thresholds returns a copy of the rows.
func (t *Table) Thresholds() []Threshold {
	return append([]Threshold(nil), t.rows...)
}

// Max returns the highest level in the table.
func (t *Table) Max() int {
	return t.rows[len(t.rows)-1].Level
}

// LevelOf returns the level for xp. Negative xp is treated as zero.
func (t *Table) LevelOf(xp int64) Info {
	if xp < 0 {
		xp = 0
	}

	// first row whose MinXP exceeds xp
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].MinXP > xp })
	if i == 0 {
		// below the first threshold
		first := t.rows[0]
		return Info{
			Level:     first.Level,
			Title:     first.Title,
			Icon:      first.Icon,
			XP:        xp,
			XPForNext: t.span(0),
			XPToNext:  t.toNext(0, xp),
			MaxLevel:  len(t.rows) == 1,
		}
	}

	cur := t.rows[i-1]
	return Info{
		Level:       cur.Level,
		Title:       cur.Title,
		Icon:        cur.Icon,
		XP:          xp,
		XPIntoLevel: xp - cur.MinXP,
		XPForNext:   t.span(i - 1),
		XPToNext:    t.toNext(i-1, xp),
		MaxLevel:    i == len(t.rows),
	}
}

func (t *Table) span(i int) int64 {
	if i+1 >= len(t.rows) {
		return 0
	}
	return t.rows[i+1].MinXP - t.rows[i].MinXP
}

func (t *Table) toNext(i int, xp int64) int64 {
	if i+1 >= len(t.rows) {
		return 0
	}
	return t.rows[i+1].MinXP - xp
}
