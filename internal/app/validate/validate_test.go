package validate

import (
	"strings"
	"testing"
)

func TestStruct(t *testing.T) {
	type form struct {
		Title string `validate:"required,max=200"`
		Email string `validate:"omitempty,email"`
		Count int    `validate:"gte=0"`
	}

	if err := Struct(form{Title: "ok"}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}

	err := Struct(form{Email: "not-an-email", Count: -1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"title is required", "email must be a valid email", "count must be at least"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
