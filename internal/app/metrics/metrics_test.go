package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Roulette/internal/domain"
)

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.SetOnline(3)
	m.SetWaiting(domain.ModeVideo, 1)
	m.SetRooms(1)
	m.MatchMade(domain.ModeVideo)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"roulette_online_participants 3",
		`roulette_waiting_participants{mode="video"} 1`,
		"roulette_active_rooms 1",
		`roulette_matches_total{mode="video"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}
