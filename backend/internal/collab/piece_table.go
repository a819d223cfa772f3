package collab

import (
	"fmt"
	"strings"

	"collabEngine/backend/internal/ot"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int
	length int
}

// PieceTable 以 rune 为单位，与 ot 包的位置语义一致
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
	length   int
}

var _ Buffer = (*PieceTable)(nil)

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int { return pt.length }

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			sb.WriteString(string(pt.original[p.offset : p.offset+p.length]))
		case bufAdd:
			sb.WriteString(string(pt.add[p.offset : p.offset+p.length]))
		}
	}
	return sb.String()
}

func (pt *PieceTable) Apply(op ot.EditOperation) error {
	switch op.Type {
	case ot.KindRetain:
		return nil
	case ot.KindInsert:
		if op.Position < 0 || op.Position > pt.length {
			return fmt.Errorf("%w: insert position %d out of range [0,%d]", ot.ErrInvalidOperation, op.Position, pt.length)
		}
		pt.insert(op.Position, []rune(op.Content))
		return nil
	case ot.KindDelete:
		if op.Position < 0 || op.Length < 0 {
			return fmt.Errorf("%w: delete range (%d,%d) is negative", ot.ErrInvalidOperation, op.Position, op.Length)
		}
		// 超出末尾的部分截断
		pt.delete(op.Position, min(op.Length, max(pt.length-op.Position, 0)))
		return nil
	default:
		return fmt.Errorf("%w: unknown operation type %q", ot.ErrInvalidOperation, op.Type)
	}
}

func (pt *PieceTable) insert(pos int, text []rune) {
	if len(text) == 0 {
		return
	}
	start := len(pt.add)
	pt.add = append(pt.add, text...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(text)}

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
	} else {
		cur := pt.pieces[idx]
		left := piece{buf: cur.buf, offset: cur.offset, length: offset}
		right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

		newPieces := make([]piece, 0, len(pt.pieces)+2)
		newPieces = append(newPieces, pt.pieces[:idx]...)
		if left.length > 0 {
			newPieces = append(newPieces, left)
		}
		newPieces = append(newPieces, newPiece)
		if right.length > 0 {
			newPieces = append(newPieces, right)
		}
		newPieces = append(newPieces, pt.pieces[idx+1:]...)
		pt.pieces = newPieces
	}
	pt.length += len(text)
}

func (pt *PieceTable) delete(pos, count int) {
	if count <= 0 {
		return
	}
	// 要删的剩余长度
	remain := count
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		// 本轮实际要删多少
		take := min(remain, cur.length-offset)

		leftLen := offset
		rightLen := cur.length - offset - take

		replaced := make([]piece, 0, 2)
		if leftLen > 0 {
			replaced = append(replaced, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
		}
		if rightLen > 0 {
			replaced = append(replaced, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
		}

		newPieces := make([]piece, 0, len(pt.pieces)+1)
		newPieces = append(newPieces, pt.pieces[:idx]...)
		newPieces = append(newPieces, replaced...)
		newPieces = append(newPieces, pt.pieces[idx+1:]...)
		pt.pieces = newPieces

		// 右半段非空说明已经删完；否则跳过保留的左半段，从下一个 piece 的开头继续
		idx += len(replaced)
		offset = 0
		remain -= take
		pt.length -= take
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
