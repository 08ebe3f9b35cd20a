package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := NotFound("workflow %s", "wf_1")
	wrapped := fmt.Errorf("load: %w", base)
	ae, ok := As(wrapped)
	if !ok {
		t.Fatalf("As: want ok")
	}
	if ae.Status != http.StatusNotFound || ae.Code != CodeNotFound {
		t.Fatalf("As: want=404/not_found got=%d/%s", ae.Status, ae.Code)
	}
}

func TestPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("boom"), false},
		{"invalid", InvalidArgument("bad"), true},
		{"state", InvalidState("no version"), true},
		{"storage", Storage(errors.New("gcs")), false},
		{"provider transient", ProviderUnavailable(errors.New("503")), false},
		{"provider missing", ProviderMisconfigured(errors.New("none")), true},
	}
	for _, tc := range cases {
		if got := Permanent(tc.err); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}
