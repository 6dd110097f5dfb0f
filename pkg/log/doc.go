/*
Package log provides structured logging built on zerolog.

A single package-level Logger is configured once via Init and used
from every package thereafter, either directly or through a child
logger scoped with WithComponent or WithSourceID.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("daemon starting")

	cl := log.WithComponent("engine")
	cl.Info().Str("adapter", "container").Msg("adapter started")

JSONOutput selects JSON lines for production; without it, Init
configures a zerolog.ConsoleWriter for local development.
*/
package log
