package suggest

import (
	"errors"
	"testing"
)

func TestParsePayload(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"course patch", `{"course":{"title":"New title"}}`, false},
		{"new unit with lesson", `{"units":[{"ref":"u","title":"U"}],"lessons":[{"unit_ref":"u","title":"L","content_type":"text"}]}`, false},
		{"lesson delete", `{"lessons":[{"id":"l1","delete":true}]}`, false},
		{"empty body", ``, true},
		{"no changes", `{}`, true},
		{"unknown field", `{"course":{"titel":"x"}}`, true},
		{"blank course title", `{"course":{"title":"  "}}`, true},
		{"unit without id or ref", `{"units":[{"title":"U"}]}`, true},
		{"unit with id and ref", `{"units":[{"id":"u1","ref":"u","title":"U"}]}`, true},
		{"new unit without title", `{"units":[{"ref":"u"}]}`, true},
		{"duplicate ref", `{"units":[{"ref":"u","title":"A"},{"ref":"u","title":"B"}]}`, true},
		{"unit patched twice", `{"units":[{"id":"u1","title":"A"},{"id":"u1","delete":true}]}`, true},
		{"unknown unit ref", `{"lessons":[{"unit_ref":"nope","title":"L","content_type":"text"}]}`, true},
		{"new lesson without unit", `{"lessons":[{"title":"L","content_type":"text"}]}`, true},
		{"new lesson without content type", `{"lessons":[{"unit_id":"u1","title":"L"}]}`, true},
		{"delete without id", `{"lessons":[{"unit_id":"u1","delete":true}]}`, true},
		{"existing unit rename", `{"units":[{"id":"u1","title":"Renamed"}]}`, false},
		{"blank title on existing unit", `{"units":[{"id":"u1","title":"   "}]}`, true},
		{"blank title on existing lesson", `{"lessons":[{"id":"l1","title":"  "}]}`, true},
		{"blank content type on existing lesson", `{"lessons":[{"id":"l1","content_type":" "}]}`, true},
	}
	for _, tc := range cases {
		_, err := ParsePayload([]byte(tc.raw))
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("%s: expected ErrInvalidPayload, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: ParsePayload() error = %v", tc.name, err)
		}
	}
}

func TestChangesLessonCount(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"course":{"title":"x"}}`, false},
		{`{"lessons":[{"id":"l1","title":"x"}]}`, false},
		{`{"lessons":[{"id":"l1","delete":true}]}`, true},
		{`{"units":[{"id":"u1","delete":true}]}`, true},
		{`{"lessons":[{"unit_id":"u1","title":"x","content_type":"text"}]}`, true},
	}
	for _, tc := range cases {
		payload, err := ParsePayload([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParsePayload(%s) error = %v", tc.raw, err)
		}
		if got := payload.ChangesLessonCount(); got != tc.want {
			t.Fatalf("ChangesLessonCount(%s) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
