package openai

import "testing"

func TestNormalizeEmbeddingInputs(t *testing.T) {
	idxMap, in, out := normalizeEmbeddingInputs([][]byte{[]byte("cell"), []byte("  "), nil, []byte("nucleus")}, 4)

	if len(in) != 2 || in[0] != "cell" || in[1] != "nucleus" {
		t.Fatalf("unexpected inputs %q", in)
	}
	if len(idxMap) != 2 || idxMap[0] != 0 || idxMap[1] != 3 {
		t.Fatalf("unexpected index map %v", idxMap)
	}
	if len(out[1]) != 4 || len(out[2]) != 4 {
		t.Fatal("expected zero vectors for blank inputs")
	}
	if out[0] != nil || out[3] != nil {
		t.Fatal("expected non-blank slots to be left for the model")
	}
}

func TestFitDimension(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want []float32
	}{
		{name: "exact", in: []float64{1, 2}, dim: 2, want: []float32{1, 2}},
		{name: "truncate", in: []float64{1, 2, 3}, dim: 2, want: []float32{1, 2}},
		{name: "pad", in: []float64{1}, dim: 3, want: []float32{1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitDimension(tt.in, tt.dim)
			if len(got) != len(tt.want) {
				t.Fatalf("got len %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
