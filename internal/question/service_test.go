package question

import (
	"errors"
	"testing"
)

func TestNormalizeOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      []OptionInput
		wantErr error
	}{
		{
			name: "valid pair",
			in: []OptionInput{
				{Text: "Jakarta", IsCorrect: true},
				{Text: "Bandung"},
			},
		},
		{
			name:    "single option",
			in:      []OptionInput{{Text: "Jakarta", IsCorrect: true}},
			wantErr: ErrInvalidInput,
		},
		{
			name: "no correct option",
			in: []OptionInput{
				{Text: "Jakarta"},
				{Text: "Bandung"},
			},
			wantErr: ErrAnswerKeyShape,
		},
		{
			name: "two correct options",
			in: []OptionInput{
				{Text: "Jakarta", IsCorrect: true},
				{Text: "Bandung", IsCorrect: true},
				{Text: "Surabaya"},
			},
			wantErr: ErrAnswerKeyShape,
		},
		{
			name: "blank option text",
			in: []OptionInput{
				{Text: "Jakarta", IsCorrect: true},
				{Text: "   "},
			},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := normalizeOptions(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if len(out) != len(tc.in) {
				t.Fatalf("expected %d options, got %d", len(tc.in), len(out))
			}
		})
	}
}

func TestNormalizeOptionsTrimsText(t *testing.T) {
	out, err := normalizeOptions([]OptionInput{
		{Text: "  Jakarta  ", IsCorrect: true},
		{Text: " Bandung "},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out[0].Text != "Jakarta" || out[1].Text != "Bandung" {
		t.Fatalf("expected trimmed text, got %+v", out)
	}
}
