/*
Package log provides structured logging for Burrow built on zerolog.

Initialize once at startup with Init, then derive component child loggers:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("engine")
	logger.Info().Str("cluster_id", id).Msg("Cluster created")

Console output is the default; pass JSONOutput for machine-readable logs.
*/
package log
