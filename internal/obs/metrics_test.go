package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/v1/evidence":                     "/v1/evidence",
		"/v1/evidence/ev_123/versions":     "/v1/evidence/:id/versions",
		"/v1/requests":                     "/v1/requests",
		"/v1/requests/req_1/items/item_2/fulfill": "/v1/requests/:id/items/:id/fulfill",
		"/v1/audit?limit=10":               "/v1/audit",
		"/v1/factory/requests":             "/v1/factory/requests",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
