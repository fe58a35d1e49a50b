package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs a console logger tagged with app and, when set, the
// node name as the global logger.
func InitLogger(app, node string, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	ctx := zerolog.New(output).Level(level).With().Timestamp().Str("app", app)
	if node != "" {
		ctx = ctx.Str("node", node)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
