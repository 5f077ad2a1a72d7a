// Package logging provides structured logging for Coaty agents.
//
// It wraps log/slog with the agent's identity on every record and
// scoped derivation for the two producers inside an agent:
//
//	log := logging.New(cfg.Identity.Name, cfg.Logging.Level, cfg.Logging.Format,
//	    logging.Output(cfg.Logging.Output))
//	comLog := log.ForComponent("communication-manager")
//	ctlLog := log.ForController("LightController")
//
// The communication core logs dropped inbound messages, deferred publish
// warnings, and lifecycle transitions through it. Nop() disables logging
// entirely; components fall back to it when constructed without a logger.
package logging
