package cachestatus

import (
	"net/http"
	"testing"
)

func TestString(t *testing.T) {
	cases := map[string]CacheStatus{
		"OfflineCache; hit":                  Hit(),
		"OfflineCache; fwd=uri-miss; stored": Forward(FwdUriMiss).Stored(),
		"OfflineCache; fwd=miss":             Forward(FwdMiss),
		"OfflineCache; hit; detail=range":    Hit().Detail("range"),
		"OfflineCache; fwd=bypass":           Forward(FwdBypass),
	}
	for want, cs := range cases {
		if got := cs.String(); got != want {
			t.Fatalf("Status is %q, expected %q", got, want)
		}
	}
}

func TestSetReplaces(t *testing.T) {
	res := &http.Response{}
	Forward(FwdMiss).Set(res)
	Hit().Set(res)
	if values := res.Header.Values(HeaderName); len(values) != 1 || values[0] != "OfflineCache; hit" {
		t.Fatalf("Header is %v", values)
	}
}
