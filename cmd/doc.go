// Package cmd implements the paperfetch command line.
//
// Commands:
//   - download: discovers one day's pages for the selected newspapers and
//     downloads them concurrently. Each progress event is printed as a line on
//     stdout; structured logs go to stderr. SIGINT or SIGTERM cancels the
//     session, letting in-flight files finish and skipping the rest.
//   - sources: lists the newspaper ids accepted by --source.
//   - serve: exposes the HTTP API (internal/api) and runs submitted sessions one
//     at a time from a bounded queue.
//
// Configuration is read by internal/config from an optional --config file and
// PAPERFETCH_* environment variables. A dotenv file (default .env) is loaded
// into the environment first when present.
package cmd
