package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("expected [CLS] w w [SEP], got %v", ids[:4])
	}
	for i, m := range attn {
		want := int64(0)
		if i < 4 {
			want = 1
		}
		if m != want {
			t.Errorf("attention[%d]=%d, want %d", i, m, want)
		}
	}
	again, _, _ := tok.Tokenize("HELLO world", 10)
	if again[1] != ids[1] {
		t.Error("tokenization should ignore case")
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 5)
	if len(ids) != 5 {
		t.Fatalf("len=%d", len(ids))
	}
	if ids[4] != tokenSEP || attn[4] != 1 {
		t.Errorf("last position should be [SEP], got %v", ids)
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should usually hash differently")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("zzzzzzzzzzzzzzzzzzzz") < 0 {
		t.Error("hash should be non-negative")
	}
}
