package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[0] != 1 || attn[4] != 0 {
		t.Errorf("attention mask: %v", attn)
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Term
	}{
		{"empty", "", nil},
		{"punctuation only", "!!! ... ???", nil},
		{"lowercases and counts", "Hello, hello WORLD", []Term{{"hello", 2}, {"world", 1}}},
		{"drops short tokens", "I am a cat", []Term{{"am", 1}, {"cat", 1}}},
		{"splits on non alnum", "dragon-con_2024", []Term{{"dragon", 1}, {"con", 1}, {"2024", 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Terms(tt.text, DefaultTermOptions)
			if len(got) != len(tt.want) {
				t.Fatalf("Terms(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("term %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTerms_bounds(t *testing.T) {
	long := make([]byte, 60)
	for i := range long {
		long[i] = 'x'
	}
	if got := Terms(string(long), DefaultTermOptions); len(got) != 0 {
		t.Errorf("expected over-long token dropped, got %v", got)
	}
	got := Terms("aa bb cc dd", TermOptions{MinLength: 2, MaxLength: 50, MaxTerms: 2})
	if len(got) != 2 || got[1].Text != "bb" {
		t.Errorf("MaxTerms not honored: %v", got)
	}
}

func TestHashTerm(t *testing.T) {
	if HashTerm("abc", 384) != HashTerm("abc", 384) {
		t.Error("hash should be deterministic")
	}
	// 'a'*31*31 + 'b'*31 + 'c' = 96354
	if got := HashTerm("abc", 384); got != 96354%384 {
		t.Errorf("HashTerm(abc) = %d, want %d", got, 96354%384)
	}
	for _, term := range []string{"x", "hello", "a very long term indeed"} {
		if d := HashTerm(term, 7); d < 0 || d >= 7 {
			t.Errorf("HashTerm(%q) = %d out of range", term, d)
		}
	}
}

func TestSpread_edges(t *testing.T) {
	v := make([]float32, 3)
	spread(v, 0, 1, 0.5)
	if v[0] != 1 || v[1] != 0.5 || v[2] != 0 {
		t.Errorf("left edge: %v", v)
	}
	v = make([]float32, 3)
	spread(v, 2, 1, 0.5)
	if v[2] != 1 || v[1] != 0.5 || v[0] != 0 {
		t.Errorf("right edge: %v", v)
	}
}
