package collab

import (
	"errors"
	"math/rand"
	"testing"

	"collabEngine/backend/internal/ot"
)

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")

	// 在 pos=5（"Hello" 之后）插入
	if err := pt.Apply(ot.EditOperation{Type: ot.KindInsert, Position: 5, Content: " collaborative"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	// "Hello collaborative world"
	//  01234 5            18 ...
	//  从 pos=5 删掉 " collaborative"
	if err := pt.Apply(ot.EditOperation{Type: ot.KindDelete, Position: 5, Length: 14}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("abc")
	_ = pt.Apply(ot.EditOperation{Type: ot.KindInsert, Position: 3, Content: "def"})
	_ = pt.Apply(ot.EditOperation{Type: ot.KindInsert, Position: 0, Content: "xy"})
	// "xyabcdef"，删掉 "yabcd"
	if err := pt.Apply(ot.EditOperation{Type: ot.KindDelete, Position: 1, Length: 5}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "xef" {
		t.Fatalf("String() = %q, want %q", got, "xef")
	}
	if pt.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pt.Len())
	}
}

func TestPieceTable_Multibyte(t *testing.T) {
	pt := NewPieceTable("你好世界")
	if err := pt.Apply(ot.EditOperation{Type: ot.KindInsert, Position: 2, Content: "，"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := pt.Apply(ot.EditOperation{Type: ot.KindDelete, Position: 0, Length: 1}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "好，世界" {
		t.Fatalf("String() = %q, want %q", got, "好，世界")
	}
}

func TestPieceTable_RejectsInvalid(t *testing.T) {
	pt := NewPieceTable("abc")
	for _, op := range []ot.EditOperation{
		{Type: ot.KindInsert, Position: 4, Content: "x"},
		{Type: ot.KindDelete, Position: -1, Length: 1},
		{Type: "replace"},
	} {
		if err := pt.Apply(op); !errors.Is(err, ot.ErrInvalidOperation) {
			t.Fatalf("Apply(%+v) error = %v, want ErrInvalidOperation", op, err)
		}
	}
	if got := pt.String(); got != "abc" {
		t.Fatalf("String() = %q after rejected ops, want %q", got, "abc")
	}
}

// 随机操作序列下与 ot.Apply 的结果一致
func TestPieceTable_MatchesApply(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab中文xyz")

	content := "seed text"
	pt := NewPieceTable(content)
	for i := 0; i < 500; i++ {
		n := len([]rune(content))
		var op ot.EditOperation
		if rng.Intn(3) == 0 {
			op = ot.EditOperation{Type: ot.KindDelete, Position: rng.Intn(n + 3), Length: 1 + rng.Intn(4)}
		} else {
			text := make([]rune, 1+rng.Intn(3))
			for j := range text {
				text[j] = alphabet[rng.Intn(len(alphabet))]
			}
			op = ot.EditOperation{Type: ot.KindInsert, Position: rng.Intn(n + 1), Content: string(text)}
		}

		want, err := ot.Apply(content, op)
		if err != nil {
			t.Fatalf("step %d: ot.Apply(%+v) error = %v", i, op, err)
		}
		if err := pt.Apply(op); err != nil {
			t.Fatalf("step %d: Apply(%+v) error = %v", i, op, err)
		}
		if got := pt.String(); got != want {
			t.Fatalf("step %d: String() = %q, want %q", i, got, want)
		}
		if pt.Len() != len([]rune(want)) {
			t.Fatalf("step %d: Len() = %d, want %d", i, pt.Len(), len([]rune(want)))
		}
		content = want
	}
}
