package attendance

import (
	"context"
	"errors"
	"testing"
)

func TestRecordInputValidation(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		classID int64
		date    string
		entries []Entry
		wantErr error
	}{
		{
			name:    "bad date",
			classID: 4,
			date:    "02-03-2026",
			entries: []Entry{{StudentID: 9, Status: "present"}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown status",
			classID: 4,
			date:    "2026-03-02",
			entries: []Entry{{StudentID: 9, Status: "sleeping"}},
			wantErr: ErrBadStatus,
		},
		{
			name:    "empty entries",
			classID: 4,
			date:    "2026-03-02",
			wantErr: ErrInvalidInput,
		},
		{
			name:    "zero student id",
			classID: 4,
			date:    "2026-03-02",
			entries: []Entry{{StudentID: 0, Status: "present"}},
			wantErr: ErrInvalidInput,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Record(ctx, tc.classID, tc.date, 3, tc.entries)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestStudentSummaryRangeValidation(t *testing.T) {
	svc := NewService(nil)

	_, err := svc.StudentSummary(context.Background(), 9, "2026-02-01", "2026-01-01")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected range rejection, got %v", err)
	}
}
