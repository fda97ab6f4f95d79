package health

import (
	"context"
	"errors"
	"testing"

	synthmock "github.com/cantor-bot/cantor/pkg/synth/mock"
)

func TestTTSCheckerHealthy(t *testing.T) {
	c := TTSChecker(&synthmock.Provider{VoicesResult: []string{"af_bella"}})
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}
	if c.Name != "tts" {
		t.Errorf("Name = %q, want tts", c.Name)
	}
}

func TestTTSCheckerEngineDown(t *testing.T) {
	c := TTSChecker(&synthmock.Provider{VoicesErr: errors.New("connection refused")})
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() should fail when the engine is unreachable")
	}
}

func TestTTSCheckerNoVoices(t *testing.T) {
	c := TTSChecker(&synthmock.Provider{})
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() should fail on an empty voice catalogue")
	}
}
