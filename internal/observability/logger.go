package observability

import (
	"github.com/danmuck/cfdp/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logging profile and tags the global
// logger with app and the local entity id.
func InitLogger(app string, entityID uint64) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Uint64("entity", entityID).Logger()
	log.Logger = logger
	return logger
}
