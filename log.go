package sok

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package-wide structured logger. It defaults to a disabled
// logger so the library stays silent unless a caller wires an output, e.g.:
//
//	sok.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
var Logger zerolog.Logger = zerolog.New(os.Stderr).Level(zerolog.Disabled)
