// Package logging assembles the structured slog loggers used across cardscan.
//
// It owns the console and JSON handlers and centralizes level and output
// plumbing. Components take a *slog.Logger and tag their lines with a
// "component" attribute, which the console handler lifts into the line prefix.
package logging
