/*
Package api holds the HTTP surfaces of the agent launch provisioner.

Subpackages:

  - clients - Transport plus the hosting provider and registration backend clients
  - pipelinehandler - HTTP handler running pipelines and reading process state
  - fakeprovider - In-memory hosting provider and registration backend for tests and local development

HTTPServerConfig configures the server in package httpserver.
*/
package api
