//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()

			body := decodeJSON[healthResponse](t, resp)
			if resp.StatusCode != http.StatusOK || body.Status != "ok" {
				t.Fatalf("%s: status %d %q, failing checks %v", path, resp.StatusCode, body.Status, body.Checks)
			}
		})
	}
}
