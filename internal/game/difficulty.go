package game

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Difficulty scales player HP, enemy HP and spawn pressure.
type Difficulty uint8

const (
	DifficultyEasy Difficulty = iota
	DifficultyMedium
	DifficultyHard
)

var ErrUnknownDifficulty = eris.New("unknown difficulty")

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "EASY"
	case DifficultyMedium:
		return "MEDIUM"
	case DifficultyHard:
		return "HARD"
	default:
		return "UNKNOWN"
	}
}

// ParseDifficulty accepts the wire names case-insensitively. An empty
// string selects MEDIUM.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EASY":
		return DifficultyEasy, nil
	case "", "MEDIUM", "NORMAL":
		return DifficultyMedium, nil
	case "HARD":
		return DifficultyHard, nil
	}
	return DifficultyMedium, eris.Wrapf(ErrUnknownDifficulty, "%q", s)
}

// PlayerHPForDifficulty returns the starting HP of a player ship.
func PlayerHPForDifficulty(d Difficulty) int {
	switch d {
	case DifficultyEasy:
		return 150
	case DifficultyHard:
		return 60
	default:
		return 100
	}
}

// enemyHPScale multiplies base enemy HP.
func enemyHPScale(d Difficulty) float64 {
	switch d {
	case DifficultyEasy:
		return 0.75
	case DifficultyHard:
		return 1.5
	default:
		return 1
	}
}

// spawnInterval is the seconds between enemy waves before AI strength
// is applied.
func spawnInterval(d Difficulty) float64 {
	switch d {
	case DifficultyEasy:
		return 3.0
	case DifficultyHard:
		return 1.25
	default:
		return 2.0
	}
}

// Mode selects the match rules.
type Mode uint8

const (
	ModeClassic  Mode = iota // Fixed wave pressure
	ModeSurvival             // Waves accelerate over time
)

func (m Mode) String() string {
	if m == ModeSurvival {
		return "survival"
	}
	return "classic"
}

// ParseMode maps a wire name to a Mode, defaulting to classic.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "survival") {
		return ModeSurvival
	}
	return ModeClassic
}
