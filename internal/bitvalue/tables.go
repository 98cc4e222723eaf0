package bitvalue

import "hlsbv/internal/bitlattice"

const (
	b0 = bitlattice.Zero
	b1 = bitlattice.One
	bX = bitlattice.X
	bU = bitlattice.U
)

// carryBit is the output of one full adder or subtractor cell. Carry-in X
// never occurs, those columns hold U.
type carryBit struct {
	carry bitlattice.Bit
	bit   bitlattice.Bit
}

// plusTable[a][b][carry] is the carry out and the sum bit of a+b+carry.
var plusTable = [4][4][4]carryBit{
	// ZERO
	{
		{{b0, b0}, {b0, b1}, {bU, bU}, {b0, bU}},
		{{b0, b1}, {b1, b0}, {bU, bU}, {bU, bU}},
		{{b0, b0}, {b0, b1}, {bU, bU}, {b0, bU}},
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
	},
	// ONE
	{
		{{b0, b1}, {b1, b0}, {bU, bU}, {bU, bU}},
		{{b1, b0}, {b1, b1}, {bU, bU}, {b1, bU}},
		{{b0, b1}, {b1, b0}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {b1, bU}, {bU, bU}, {bU, bU}},
	},
	// X
	{
		{{b0, b0}, {b0, b1}, {bU, bU}, {b0, bU}},
		{{b0, b1}, {b1, b0}, {bU, bU}, {bU, bU}},
		{{b0, bX}, {b0, bX}, {bU, bU}, {b0, bX}},
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
	},
	// U
	{
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {b1, bU}, {bU, bU}, {bU, bU}},
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
	},
}

// minusTable[a][b][borrow] is the borrow out and the difference bit of
// a-b-borrow.
var minusTable = [4][4][4]carryBit{
	// ZERO
	{
		{{b0, b0}, {b1, b1}, {bU, bU}, {bU, bU}},
		{{b1, b1}, {b1, b0}, {bU, bU}, {b1, bU}},
		{{b0, b0}, {b0, b1}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {b1, bU}, {bU, bU}, {bU, bU}},
	},
	// ONE
	{
		{{b0, b1}, {b0, b0}, {bU, bU}, {b0, bU}},
		{{b0, b0}, {b1, b1}, {bU, bU}, {bU, bU}},
		{{b0, b0}, {b0, b0}, {bU, bU}, {b0, bU}},
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
	},
	// X
	{
		{{b0, b0}, {b0, b0}, {bU, bU}, {b0, b0}},
		{{b0, b0}, {b1, b0}, {bU, bU}, {bU, bU}},
		{{b0, bX}, {b0, bX}, {bU, bU}, {b0, bX}},
		{{b0, b0}, {b0, bU}, {bU, bU}, {bU, bU}},
	},
	// U
	{
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {b1, bU}, {bU, bU}, {bU, bU}},
		{{b0, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
		{{bU, bU}, {bU, bU}, {bU, bU}, {bU, bU}},
	},
}

// orTable, xorTable and andTable combine two lattice bits.
var orTable = [4][4]bitlattice.Bit{
	{b0, b1, bX, bU},
	{b1, b1, b1, b1},
	{bX, b1, bX, bX},
	{bU, b1, bX, bU},
}

var xorTable = [4][4]bitlattice.Bit{
	{b0, b1, bX, bU},
	{b1, b0, bX, bU},
	{bX, bX, bX, bX},
	{bU, bU, bX, bU},
}

var andTable = [4][4]bitlattice.Bit{
	{b0, b0, b0, b0},
	{b0, b1, bX, bU},
	{b0, bX, bX, bX},
	{b0, bU, bX, bU},
}
