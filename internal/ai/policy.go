// Package ai picks moves for the computer opponent.
//
// On a 3x3 board the policy runs full minimax and never loses. On larger
// boards exhaustive search is intractable at interactive latency, so a
// fixed priority rule chain applies instead: it is hard to beat casually
// but a skilled opponent can win. That trade-off is deliberate.
package ai

import (
	"math/rand"

	"gridmatch/internal/board"
)

// Policy chooses moves for one symbol. The rand source is injectable so
// tests can pin the random tie-breaks.
type Policy struct {
	rng *rand.Rand
}

// New returns a policy backed by the given source. A nil source falls
// back to a time-seeded one.
func New(src rand.Source) *Policy {
	if src == nil {
		return &Policy{rng: rand.New(rand.NewSource(rand.Int63()))}
	}
	return &Policy{rng: rand.New(src)}
}

// ChooseMove returns the cell index to play. The caller guarantees at
// least one empty cell; the board is never full here.
func (p *Policy) ChooseMove(b board.Board, size int, me board.Symbol) int {
	if size == 3 {
		return p.bestMinimax(b, me)
	}
	return p.strategic(b, size, me)
}

func (p *Policy) bestMinimax(b board.Board, me board.Symbol) int {
	lines := board.Lines(3)
	scratch := b.Clone()

	bestScore := -1 << 30
	bestMove := -1
	for _, i := range scratch.EmptyCells() {
		scratch[i] = me
		score := minimax(scratch, lines, me, 0, false)
		scratch[i] = board.Empty
		if score > bestScore {
			bestScore = score
			bestMove = i
		}
	}
	return bestMove
}

// minimax recurses over the remaining empty cells, at most nine levels
// deep. Terminal scores favor quicker wins and later losses: +(10-depth)
// when we win, depth-10 when the opponent wins, 0 for a drawn full board.
func minimax(b board.Board, lines []board.Line, me board.Symbol, depth int, maximizing bool) int {
	winner, _ := board.CheckWinner(b, lines)
	switch winner {
	case me:
		return 10 - depth
	case me.Other():
		return depth - 10
	}
	if b.Full() {
		return 0
	}

	if maximizing {
		best := -1 << 30
		for _, i := range b.EmptyCells() {
			b[i] = me
			if score := minimax(b, lines, me, depth+1, false); score > best {
				best = score
			}
			b[i] = board.Empty
		}
		return best
	}

	best := 1 << 30
	opp := me.Other()
	for _, i := range b.EmptyCells() {
		b[i] = opp
		if score := minimax(b, lines, me, depth+1, true); score < best {
			best = score
		}
		b[i] = board.Empty
	}
	return best
}

// strategic applies rules in strict priority order and takes the first
// that yields a move: complete own line, block opponent's line, center,
// random empty corner, random empty cell.
func (p *Policy) strategic(b board.Board, size int, me board.Symbol) int {
	lines := board.Lines(size)
	scratch := b.Clone()

	if i := completing(scratch, lines, me); i >= 0 {
		return i
	}
	if i := completing(scratch, lines, me.Other()); i >= 0 {
		return i
	}

	total := size * size
	if center := total / 2; b[center] == board.Empty {
		return center
	}

	corners := []int{0, size - 1, total - size, total - 1}
	open := corners[:0:0]
	for _, c := range corners {
		if b[c] == board.Empty {
			open = append(open, c)
		}
	}
	if len(open) > 0 {
		return open[p.rng.Intn(len(open))]
	}

	empty := b.EmptyCells()
	return empty[p.rng.Intn(len(empty))]
}

// completing returns an empty cell that would finish a line for sym, or -1.
func completing(b board.Board, lines []board.Line, sym board.Symbol) int {
	for _, i := range b.EmptyCells() {
		b[i] = sym
		winner, _ := board.CheckWinner(b, lines)
		b[i] = board.Empty
		if winner == sym {
			return i
		}
	}
	return -1
}
