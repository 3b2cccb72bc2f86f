// Package tournament implements single-elimination brackets, team
// registration with gateway settlement, and time-driven tournament status
// transitions.
package tournament

import (
	"math/rand"
	"time"

	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// allowed bracket sizes
var validSpots = map[int]bool{8: true, 16: true, 32: true}

// Match is one node in the bracket arena, addressed by its stable Number.
// Team slots hold registration ids; an empty string means the slot is not
// decided yet.
type Match struct {
	Number       int    `json:"matchNumber"` // globally unique, monotonic by round
	Round        int    `json:"round"`       // 1-based
	Team1        string `json:"team1"`
	Team2        string `json:"team2"`
	Winner       string `json:"winner"`
	Completed    bool   `json:"completed"`
	HasBye       bool   `json:"hasBye"`
	IsThirdPlace bool   `json:"isThirdPlace"`
}

// Bracket is an arena of matches. Round r holds numSpots>>r matches; the
// third-place match, when present, sits alongside the final round but is
// excluded from winner propagation.
type Bracket struct {
	NumSpots  int     `json:"numSpots"`
	Rounds    int     `json:"rounds"`
	Matches   []Match `json:"matches"` // arena, index = Number-1
	Generated bool    `json:"generated"`
}

// roundSize returns how many regular matches round r holds.
func roundSize(numSpots, round int) int {
	return numSpots >> round
}

// firstMatchNumber returns the Number of the first regular match of round r.
func firstMatchNumber(numSpots, round int) int {
	n := 1
	for r := 1; r < round; r++ {
		n += roundSize(numSpots, r)
	}
	return n
}

// Match returns the match with the given number.
func (b *Bracket) Match(number int) (*Match, error) {
	if number < 1 || number > len(b.Matches) {
		return nil, fault.Newf(fault.KindNotFound, "no match %d in bracket", number)
	}
	return &b.Matches[number-1], nil
}

// ThirdPlace returns the third-place match, if the bracket has one.
func (b *Bracket) ThirdPlace() *Match {
	for i := range b.Matches {
		if b.Matches[i].IsThirdPlace {
			return &b.Matches[i]
		}
	}
	return nil
}

// Round returns the regular matches of round r in order.
func (b *Bracket) Round(r int) []Match {
	var out []Match
	for _, m := range b.Matches {
		if m.Round == r && !m.IsThirdPlace {
			out = append(out, m)
		}
	}
	return out
}

// BracketEngine generates and advances brackets. Seeding is uniform-random
// for fairness among amateur teams; the random source is injectable so tests
// can pin it.
type BracketEngine struct {
	rng *rand.Rand
}

func NewBracketEngine(rng *rand.Rand) *BracketEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &BracketEngine{rng: rng}
}

// Generate builds a bracket for the given registration ids. Teams are
// shuffled into slots, the tail is padded with byes, and round 1 pairs slot
// i with slot numSpots-1-i. Single-bye pairings complete immediately and
// their winners are propagated forward; a pairing of two empty slots
// finishes void and advances nothing, so later rounds fed by it resolve by
// bye as their other side settles. A third-place match is seeded from the
// semifinal losers as they become known.
func (e *BracketEngine) Generate(teamIDs []string, numSpots int) (*Bracket, error) {
	if !validSpots[numSpots] {
		return nil, fault.Newf(fault.KindValidation, "bracket size %d not supported", numSpots)
	}
	if len(teamIDs) < 2 {
		return nil, fault.New(fault.KindValidation, "at least two teams are required")
	}
	if len(teamIDs) > numSpots {
		return nil, fault.Newf(fault.KindValidation, "%d teams exceed %d bracket spots", len(teamIDs), numSpots)
	}

	slots := make([]string, numSpots)
	shuffled := make([]string, len(teamIDs))
	copy(shuffled, teamIDs)
	e.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	copy(slots, shuffled) // slots beyond teamCount stay "" = bye

	rounds := 0
	for n := numSpots; n > 1; n >>= 1 {
		rounds++
	}

	b := &Bracket{NumSpots: numSpots, Rounds: rounds}

	// Round 1: top half vs bottom half.
	number := 1
	for i := 0; i < numSpots/2; i++ {
		team1, team2 := slots[i], slots[numSpots-1-i]
		m := Match{Number: number, Round: 1, Team1: team1, Team2: team2}
		if team1 == "" || team2 == "" {
			// One empty slot is a bye win; two is a void pairing with no
			// winner to advance.
			m.HasBye = true
			m.Completed = true
			if team1 != "" {
				m.Winner = team1
			} else if team2 != "" {
				m.Winner = team2
			}
		}
		b.Matches = append(b.Matches, m)
		number++
	}

	// Placeholder matches for rounds 2..rounds.
	for r := 2; r <= rounds; r++ {
		for i := 0; i < roundSize(numSpots, r); i++ {
			b.Matches = append(b.Matches, Match{Number: number, Round: r})
			number++
		}
	}

	// Third-place match sits alongside the final.
	if len(teamIDs) > 2 && rounds >= 2 {
		b.Matches = append(b.Matches, Match{Number: number, Round: rounds, IsThirdPlace: true})
	}

	// One forward pass settles all bye advancements. Cascades through later
	// rounds happen inside Propagate, so only round-1 matches need visiting.
	for i := 0; i < numSpots/2; i++ {
		if b.Matches[i].Completed {
			if err := e.Propagate(b, b.Matches[i].Number); err != nil {
				return nil, err
			}
		}
	}

	b.Generated = true
	return b, nil
}

// RecordResult applies a winner to a match and propagates it forward.
func (e *BracketEngine) RecordResult(b *Bracket, matchNumber int, winnerID string) error {
	m, err := b.Match(matchNumber)
	if err != nil {
		return err
	}
	if m.Team1 == "" || m.Team2 == "" {
		if !m.HasBye {
			return fault.Newf(fault.KindConflict, "match %d is not ready for a result", matchNumber)
		}
		return fault.Newf(fault.KindConflict, "match %d is decided by bye advancement", matchNumber)
	}
	if winnerID != m.Team1 && winnerID != m.Team2 {
		return fault.Newf(fault.KindValidation, "team %s is not playing match %d", winnerID, matchNumber)
	}
	if m.Completed && m.Winner != winnerID {
		return fault.Newf(fault.KindConflict, "match %d already has a winner", matchNumber)
	}
	m.Winner = winnerID
	m.Completed = true
	return e.Propagate(b, matchNumber)
}

// Propagate places the winner (and, for semifinals, the loser) of a
// completed match into its descendant slots. A completed match without a
// winner marks the descendant slot as permanently empty instead. Safe to
// call repeatedly for the same match.
func (e *BracketEngine) Propagate(b *Bracket, matchNumber int) error {
	m, err := b.Match(matchNumber)
	if err != nil {
		return err
	}
	if !m.Completed || m.IsThirdPlace {
		return nil
	}

	index := matchNumber - firstMatchNumber(b.NumSpots, m.Round)

	if m.Round < b.Rounds {
		nextNumber := firstMatchNumber(b.NumSpots, m.Round+1) + index/2
		next, err := b.Match(nextNumber)
		if err != nil {
			return err
		}
		switch {
		case m.Winner == "":
			next.HasBye = true
		case index%2 == 0:
			next.Team1 = m.Winner
		default:
			next.Team2 = m.Winner
		}
		if err := e.resolveBye(b, next); err != nil {
			return err
		}
	}

	// Semifinal losers meet in the third-place match. A semifinal decided by
	// a bye has no loser to seat, so that side stays empty for good.
	if m.Round == b.Rounds-1 {
		if third := b.ThirdPlace(); third != nil {
			loser := ""
			if m.Winner != "" {
				if m.Winner == m.Team1 {
					loser = m.Team2
				} else {
					loser = m.Team1
				}
			}
			switch {
			case loser == "":
				third.HasBye = true
			case index == 0:
				third.Team1 = loser
			default:
				third.Team2 = loser
			}
			if err := e.resolveBye(b, third); err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveBye completes a match one of whose sides can never be filled. Once
// both feeder matches are done, the lone team advances as a bye win; with no
// teams at all the match finishes void, and the emptiness propagates.
func (e *BracketEngine) resolveBye(b *Bracket, m *Match) error {
	if m.Completed || !m.HasBye {
		return nil
	}

	var first int
	if m.IsThirdPlace {
		first = firstMatchNumber(b.NumSpots, b.Rounds-1)
	} else {
		index := m.Number - firstMatchNumber(b.NumSpots, m.Round)
		first = firstMatchNumber(b.NumSpots, m.Round-1) + 2*index
	}
	for _, n := range []int{first, first + 1} {
		feeder, err := b.Match(n)
		if err != nil {
			return err
		}
		if !feeder.Completed {
			return nil
		}
	}

	m.Completed = true
	if m.Team1 != "" {
		m.Winner = m.Team1
	} else if m.Team2 != "" {
		m.Winner = m.Team2
	}
	if m.IsThirdPlace {
		return nil
	}
	return e.Propagate(b, m.Number)
}

// Champion returns the tournament winner once the final is decided.
func (b *Bracket) Champion() (string, bool) {
	final := firstMatchNumber(b.NumSpots, b.Rounds)
	m, err := b.Match(final)
	if err != nil || !m.Completed || m.Winner == "" {
		return "", false
	}
	return m.Winner, true
}
