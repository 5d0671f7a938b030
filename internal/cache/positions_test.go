package cache

import (
	"testing"
	"time"
)

func TestPositionMaxAgeParDefaut(t *testing.T) {
	t.Setenv("POSITION_MAX_AGE_MIN", "")
	if got := PositionMaxAge(); got != 15*time.Minute {
		t.Fatalf("fenêtre = %s, attendu 15m", got)
	}
}

func TestPositionMaxAgeConfigurable(t *testing.T) {
	t.Setenv("POSITION_MAX_AGE_MIN", "30")
	if got := PositionMaxAge(); got != 30*time.Minute {
		t.Fatalf("fenêtre = %s, attendu 30m", got)
	}
	t.Setenv("POSITION_MAX_AGE_MIN", "n'importe quoi")
	if got := PositionMaxAge(); got != 15*time.Minute {
		t.Fatalf("valeur invalide: fenêtre = %s, attendu le défaut 15m", got)
	}
}

func TestPositionTTLCouvreLaFenetre(t *testing.T) {
	for _, v := range []string{"", "5", "45"} {
		t.Setenv("POSITION_MAX_AGE_MIN", v)
		if PositionTTL() < PositionMaxAge() {
			t.Fatalf("POSITION_MAX_AGE_MIN=%q: TTL %s < fenêtre %s", v, PositionTTL(), PositionMaxAge())
		}
	}
}
