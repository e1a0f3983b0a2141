package storage

import "testing"

func TestProductPrefix(t *testing.T) {
	cases := []struct {
		name    string
		root    string
		id      int
		want    string
		wantErr bool
	}{
		{name: "with root", root: "certificates", id: 100, want: "certificates/100/"},
		{name: "trims slashes", root: "/certificates/", id: 7, want: "certificates/7/"},
		{name: "no root", root: "", id: 3, want: "3/"},
		{name: "invalid id", root: "certificates", id: 0, wantErr: true},
		{name: "traversal root", root: "../etc", id: 1, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ProductPrefix(tc.root, tc.id)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidateObjectKey(t *testing.T) {
	valid := []string{"certificates/100/1.pdf", " certificates/100/2.png "}
	for _, key := range valid {
		if _, err := ValidateObjectKey(key); err != nil {
			t.Fatalf("expected %q to be valid: %v", key, err)
		}
	}
	invalid := []string{"", "/abs/key", "a//b", "a/../b", `a\b`}
	for _, key := range invalid {
		if _, err := ValidateObjectKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}
