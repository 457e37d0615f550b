// Package main (cmd/httpserver) serves the pipeline API.
//
// Every POST /api/pipelines runs one provisioning pipeline against the
// configured hosting provider and, when requested, registers a token for the
// resulting process. Runs are synchronous and independent of each other.
//
// Deployment defaults can be given as LAUNCHER_* environment variables
// (LAUNCHER_LISTEN_ADDR, LAUNCHER_ARCHIVE_URIS, LAUNCHER_DEV_FAKE_PROVIDER);
// command-line flags take precedence.
//
// With --dev-fake-provider the server mounts an in-memory hosting provider and
// registration backend under /fake and points the pipeline at it, so the API
// can be tried without credentials.
//
// Example usage:
//
//	agent-launch-server --listen-addr=0.0.0.0:8080 \
//	    --api-key=$AGENTVERSE_API_KEY \
//	    --archive-uri=file:///var/lib/agent-launch/reports
package main
