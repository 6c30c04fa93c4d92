package util

import (
	"flag"
	"os"

	"github.com/h2non/gock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func IsTest() bool {
	return flag.Lookup("test.v") != nil
}

func ConfigureTestLogger() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.TimeFormat = "04:05.000ms"
	})).With().Timestamp().Logger()
}

// ResetGock clears every registered mock and restores the default http transport.
func ResetGock() {
	gock.Off()
	gock.Clean()
	gock.CleanUnmatchedRequest()
}

// AssertNoPendingMocks fails the test when some registered gock mocks were never matched.
func AssertNoPendingMocks(t interface {
	Helper()
	Errorf(format string, args ...interface{})
}, expected int) {
	t.Helper()
	if pending := len(gock.Pending()); pending != expected {
		for _, m := range gock.Pending() {
			t.Errorf("pending mock: %s %s", m.Request().Method, m.Request().URLStruct.String())
		}
		t.Errorf("expected %d pending mocks, got %d", expected, pending)
	}
}
