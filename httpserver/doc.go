/*
Package httpserver runs the pipeline API behind request logging, health
endpoints and a separate Prometheus metrics listener.

# Endpoints

  - POST /api/pipelines - Run a pipeline, see package pipelinehandler
  - GET /api/processes - List hosted processes
  - GET /api/processes/{address} - Get one process' remote status
  - GET /api/reports/{id} - Fetch an archived pipeline result
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

Pipelines run synchronously in the request, so WriteTimeout has to exceed the
poll budget of the configured strategy.

# Shutdown

Shutdown first marks the server not ready and waits DrainDuration so load
balancers stop routing new pipelines to it, then stops accepting connections
and waits up to GracefulShutdownDuration for in-flight pipelines.
*/
package httpserver
