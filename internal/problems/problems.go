// Package problems serves the built-in bank of coding problems used by
// technical interview sessions.
package problems

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

//go:embed problems.json
var problemsJSON []byte

// Problem is one coding problem from the embedded bank.
type Problem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Difficulty  string `json:"difficulty"`
	Description string `json:"description"`
}

var loadAll = sync.OnceValues(func() ([]Problem, error) {
	var ps []Problem
	if err := json.Unmarshal(problemsJSON, &ps); err != nil {
		return nil, fmt.Errorf("problems: parse embedded bank: %w", err)
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("problems: embedded bank is empty")
	}
	return ps, nil
})

// All returns every problem in the bank.
func All() ([]Problem, error) {
	return loadAll()
}

// PickTwo deterministically selects a warm-up problem and a harder problem for
// a session. The same session key always yields the same pair, so retried
// requests see a stable selection. The warm-up is never Hard and the second
// problem is never Easy.
func PickTwo(sessionKey string) (easy, hard Problem, err error) {
	all, err := loadAll()
	if err != nil {
		return Problem{}, Problem{}, err
	}

	var seed uint32
	for _, b := range []byte(sessionKey) {
		seed += uint32(b)
	}

	// Order the bank by a session-keyed multiplicative hash so each session
	// walks the problems in its own stable order.
	ranked := make([]Problem, len(all))
	copy(ranked, all)
	sort.Slice(ranked, func(i, j int) bool {
		return pickHash(seed, ranked[i].ID) < pickHash(seed, ranked[j].ID)
	})

	foundEasy, foundHard := false, false
	for _, p := range ranked {
		if !foundEasy && p.Difficulty != "Hard" {
			easy = p
			foundEasy = true
			continue
		}
		if !foundHard && p.Difficulty != "Easy" && p.ID != easy.ID {
			hard = p
			foundHard = true
		}
		if foundEasy && foundHard {
			return easy, hard, nil
		}
	}
	return Problem{}, Problem{}, fmt.Errorf("problems: bank cannot satisfy a warm-up and a harder problem")
}

func pickHash(seed uint32, id int) uint32 {
	return (seed * uint32(id) * 2654435761) & 0xFFFFFFFF
}
