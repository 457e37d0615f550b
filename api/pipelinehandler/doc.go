// Package pipelinehandler exposes the pipeline orchestrator over HTTP.
//
// # Endpoints
//
//   - POST /api/pipelines runs one pipeline synchronously and returns its
//     PipelineResult. 200 on success, 502 when a step failed, 504 when the
//     process never compiled within the poll budget, 400 on malformed input.
//   - GET /api/processes lists the hosted processes of the configured account.
//   - GET /api/processes/{address} returns the current remote status of one process.
//   - GET /api/reports/{id} returns an archived PipelineResult (only with an archive).
//
// When an archive is configured every finished run is stored and its content
// ID is returned in the X-Report-Id header.
//
// The handler only translates between HTTP and the orchestrator; partial
// results are returned in the body for failed runs too.
package pipelinehandler
