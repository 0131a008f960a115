/*
Package log provides structured logging for autotest using zerolog.

A single global Logger is configured once by the CLI through Init. Library
packages never create their own root logger; they derive child loggers at
construction time so every line carries the fields a reader needs to follow
an action back to a resource:

	logger := log.WithComponent("reconciler")
	ctrLog := log.WithContainer(log.WithService(logger, "web"), containerID)
	ctrLog.Info().
		Str("outcome", "restarted").
		Msg("Restarted unhealthy container")

Console output (default):

	2026-10-16T10:30:00Z INF Restarted unhealthy container component=healer service=web container=3f2a9b1c0d4e outcome=restarted

JSON output (--log-json):

	{"level":"info","component":"healer","service":"web","container":"3f2a9b1c0d4e","outcome":"restarted","time":"2026-10-16T10:30:00Z","message":"Restarted unhealthy container"}

Logs are written to stderr by default so command output on stdout (deploy
summaries, status tables, action reports) can be piped independently.
*/
package log
