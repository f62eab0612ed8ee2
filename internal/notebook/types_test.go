package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDocumentCellsTieBreaksEqualIndexByCreatedAt covers the case sortCells
// must resolve deterministically: two cells sharing the same fractional
// index fall back to CreatedAt order (spec §3).
func TestDocumentCellsTieBreaksEqualIndexByCreatedAt(t *testing.T) {
	idx := "a0"
	s := newState()
	s.Cells["later"] = Cell{ID: "later", DocumentID: "d", FractionalIndex: &idx, CreatedAt: 200}
	s.Cells["earlier"] = Cell{ID: "earlier", DocumentID: "d", FractionalIndex: &idx, CreatedAt: 100}

	cells := s.DocumentCells("d")
	assert.Equal(t, []string{"earlier", "later"}, []string{cells[0].ID, cells[1].ID})
}

func TestDocumentCellsOrdersByFractionalIndexThenNullsLast(t *testing.T) {
	a, b := "a0", "b0"
	s := newState()
	s.Cells["nullIdx"] = Cell{ID: "nullIdx", DocumentID: "d", CreatedAt: 1}
	s.Cells["b"] = Cell{ID: "b", DocumentID: "d", FractionalIndex: &b, CreatedAt: 2}
	s.Cells["a"] = Cell{ID: "a", DocumentID: "d", FractionalIndex: &a, CreatedAt: 3}

	cells := s.DocumentCells("d")
	assert.Equal(t, []string{"a", "b", "nullIdx"}, []string{cells[0].ID, cells[1].ID, cells[2].ID})
}
