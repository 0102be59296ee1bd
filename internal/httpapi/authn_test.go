package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "case insensitive scheme", header: "bearer abc123", want: "abc123"},
		{name: "missing header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
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

func TestIsPublicPath(t *testing.T) {
	public := []string{"/v1/auth/login", "/metrics", "/healthz", "/readyz", "/v1/info", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Fatalf("expected %s to be public", p)
		}
	}
	private := []string{"/v1/evidence", "/v1/requests", "/v1/factory/requests", "/v1/audit", "/v1/requests/req_1/items/item_1/fulfill"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Fatalf("expected %s to be protected", p)
		}
	}
}
