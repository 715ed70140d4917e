package board

import (
	"errors"
	"fmt"
	"strings"
)

// Symbol is a cell mark on the grid.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Other returns the opposing symbol. Empty maps to Empty.
func (s Symbol) Other() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

// Board is an NxN grid flattened row-major into size*size cells.
type Board []Symbol

// Line is a set of cell indices that wins the game when one symbol fills it.
type Line []int

const (
	MinSize = 3
	MaxSize = 5
)

var ErrBadSize = errors.New("board size out of range")

// New returns an empty board for the given size.
func New(size int) Board {
	return make(Board, size*size)
}

// ValidSize reports whether size is a supported board dimension.
func ValidSize(size int) bool {
	return size >= MinSize && size <= MaxSize
}

// Lines generates all winning lines for an NxN board: N rows, N columns,
// the main diagonal and the anti-diagonal, in that order. CheckWinner
// reports the first matching line in this order.
func Lines(size int) []Line {
	lines := make([]Line, 0, 2*size+2)

	for row := 0; row < size; row++ {
		line := make(Line, 0, size)
		for col := 0; col < size; col++ {
			line = append(line, row*size+col)
		}
		lines = append(lines, line)
	}

	for col := 0; col < size; col++ {
		line := make(Line, 0, size)
		for row := 0; row < size; row++ {
			line = append(line, row*size+col)
		}
		lines = append(lines, line)
	}

	diag := make(Line, 0, size)
	for i := 0; i < size; i++ {
		diag = append(diag, i*size+i)
	}
	lines = append(lines, diag)

	anti := make(Line, 0, size)
	for i := 0; i < size; i++ {
		anti = append(anti, i*size+(size-1-i))
	}
	lines = append(lines, anti)

	return lines
}

// CheckWinner scans lines in generation order and returns the winning
// symbol with its line, or Empty and nil if no line is complete.
func CheckWinner(b Board, lines []Line) (Symbol, Line) {
	for _, line := range lines {
		first := b[line[0]]
		if first == Empty {
			continue
		}
		won := true
		for _, idx := range line[1:] {
			if b[idx] != first {
				won = false
				break
			}
		}
		if won {
			return first, line
		}
	}
	return Empty, nil
}

// Full reports whether no cell is empty. A full board with no winning
// line is a draw; callers must check the winner first.
func (b Board) Full() bool {
	for _, cell := range b {
		if cell == Empty {
			return false
		}
	}
	return true
}

// EmptyCells returns the indices of all unoccupied cells.
func (b Board) EmptyCells() []int {
	cells := make([]int, 0, len(b))
	for i, cell := range b {
		if cell == Empty {
			cells = append(cells, i)
		}
	}
	return cells
}

// Clone returns an independent copy of the board.
func (b Board) Clone() Board {
	c := make(Board, len(b))
	copy(c, b)
	return c
}

// Encode flattens the board into a compact string, one byte per cell:
// 'X', 'O' or '.' for empty. Keeping the whole board a single string
// field means a board write is one last-write-wins field at the store.
func (b Board) Encode() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, cell := range b {
		switch cell {
		case X:
			sb.WriteByte('X')
		case O:
			sb.WriteByte('O')
		default:
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

// Decode parses a board encoded by Encode.
func Decode(s string) (Board, error) {
	b := make(Board, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'X':
			b[i] = X
		case 'O':
			b[i] = O
		case '.':
			b[i] = Empty
		default:
			return nil, fmt.Errorf("decode board: bad cell %q at %d", s[i], i)
		}
	}
	return b, nil
}
