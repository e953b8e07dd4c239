package domain

import (
	"errors"
	"testing"
)

func TestParseCartKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    CartKey
		wantErr bool
	}{
		{raw: "p1_M", want: CartKey{ProductID: "p1", Size: "M"}},
		{raw: "p3_Única", want: CartKey{ProductID: "p3", Size: "Única"}},
		{raw: "p7_A_5", want: CartKey{ProductID: "p7", Size: "A_5"}},
		{raw: "p1", wantErr: true},
		{raw: "_M", wantErr: true},
		{raw: "p1_", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseCartKey(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCartKey) {
					t.Fatalf("expected ErrInvalidCartKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
			if got.String() != tc.raw {
				t.Fatalf("round trip mismatch: %s vs %s", got.String(), tc.raw)
			}
		})
	}
}

func TestProductSizes(t *testing.T) {
	p := Product{ID: "p1", Sizes: []string{"S", "M", "L"}}

	if p.DefaultSize() != "S" {
		t.Fatalf("expected default size S, got %s", p.DefaultSize())
	}
	if !p.HasSize("L") || p.HasSize("XL") {
		t.Fatal("unexpected HasSize result")
	}
	if p.SizeIndex("M") != 1 {
		t.Fatalf("expected index 1, got %d", p.SizeIndex("M"))
	}
	if (Product{}).DefaultSize() != "" {
		t.Fatal("expected empty default size for product without sizes")
	}
}
