package obs

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Production emits plain JSON;
// anything else gets the human console writer and debug level.
func NewLogger(environment string) zerolog.Logger {
	if environment == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return zerolog.New(os.Stdout).With().
			Timestamp().
			Str("service", "sitewright-uas").
			Logger()
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().
		Timestamp().
		Str("service", "sitewright-uas").
		Logger()
}
