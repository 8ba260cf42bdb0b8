package embedding

import "testing"

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, mask, types := tok.Tokenize("hello world", 8)
	if len(ids) != 8 || len(mask) != 8 || len(types) != 8 {
		t.Fatalf("expected length 8, got %d %d %d", len(ids), len(mask), len(types))
	}
	if ids[0] != clsToken {
		t.Errorf("ids[0] = %d, want [CLS]", ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("ids[3] = %d, want [SEP]", ids[3])
	}
	for i, want := range []int64{1, 1, 1, 1, 0, 0, 0, 0} {
		if mask[i] != want {
			t.Errorf("mask[%d] = %d, want %d", i, mask[i], want)
		}
	}
	if ids[1] < 1000 || ids[1] >= vocabRange {
		t.Errorf("word id %d out of range", ids[1])
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, mask, _ := tok.Tokenize("a b c d e f g h i j", 4)
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Fatalf("unexpected ids %v", ids)
	}
	for i := range mask {
		if mask[i] != 1 {
			t.Errorf("mask[%d] = 0, want 1", i)
		}
	}
}
