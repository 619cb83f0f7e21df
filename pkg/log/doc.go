/*
Package log wraps zerolog with a process-wide logger.

Init configures the global Logger from a level name and output format; until
then it discards everything. Packages derive child loggers carrying the field
they are about:

	logger := log.WithComponent("lifecycle")
	logger.Info().Str("volume_id", id).Msg("Volume attached")

	volumeLogger := log.WithVolume(logger, id, "/dev/xvdf")
	volumeLogger.Warn().Err(err).Msg("Detach failed")

The helpers return zerolog.Logger values. Assign the result before calling a
level method, since Info, Warn and friends have pointer receivers.

Console output is the default. JSON output (`log.json: true` or --log-json)
writes one object per line for log shippers.
*/
package log
