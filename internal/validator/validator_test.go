package validator

import (
	"testing"
)

type testPayload struct {
	Text   string `json:"text" validate:"required"`
	Role   string `json:"authorRole" validate:"required,oneof=professional student system"`
	RoomID string `json:"roomId" validate:"required,max=8"`
	Extra  string
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   interface{}
		wantErr bool
		fields  []string
	}{
		{
			name:    "Valid struct",
			input:   testPayload{Text: "hi", Role: "student", RoomID: "google"},
			wantErr: false,
		},
		{
			name:    "Missing required fields",
			input:   testPayload{Role: "student"},
			wantErr: true,
			fields:  []string{"text", "roomId"},
		},
		{
			name:    "Unknown role",
			input:   testPayload{Text: "hi", Role: "admin", RoomID: "google"},
			wantErr: true,
			fields:  []string{"authorRole"},
		},
		{
			name:    "Room key too long",
			input:   testPayload{Text: "hi", Role: "system", RoomID: "a-very-long-room"},
			wantErr: true,
			fields:  []string{"roomId"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateStruct(tt.input)

			if tt.wantErr && len(errs) == 0 {
				t.Error("ValidateStruct() expected errors but got none")
				return
			}
			if !tt.wantErr && len(errs) > 0 {
				t.Errorf("ValidateStruct() got unexpected errors: %v", errs)
				return
			}

			if tt.wantErr {
				found := make(map[string]bool)
				for _, e := range errs {
					found[e.Field] = true
				}
				for _, f := range tt.fields {
					if !found[f] {
						t.Errorf("expected error for field %q, got %v", f, errs)
					}
				}
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v := New()

	if errs := v.Validate("", "required"); len(errs) != 1 {
		t.Errorf("Validate(\"\", required) = %v, want one error", errs)
	}
	if errs := v.Validate("m-1", "required"); errs != nil {
		t.Errorf("Validate(m-1, required) = %v, want nil", errs)
	}
}

func TestSummary(t *testing.T) {
	got := Summary([]ValidationError{
		{Field: "text", Message: "text is required"},
		{Field: "roomId", Message: "roomId is required"},
	})
	want := "text is required; roomId is required"
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
