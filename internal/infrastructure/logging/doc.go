// Package logging provides structured logging using uber/zap.
//
// Production output is JSON with nanosecond epoch timestamps; development
// output is colored console text. The level is atomic and shared by every
// child logger, so it can be lowered on a running system without
// rebuilding loggers held by tasks.
//
// The RTAPI message bus writes through this logger by default, so every
// diagnostic ends up as a structured record carrying the runtime instance
// and component.
//
//	logger := logging.NewDefault().Instance(rt.ID()).Component("shmem")
//	logger.Warn("mlock refused", zap.Error(err))
package logging
