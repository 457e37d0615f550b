// Package interfaces defines core interfaces and types for the agent provisioning
// and token registration pipeline, separating interface definitions from implementations.
//
// # Provisioning Types
//
//   - SourceFile: a named source file with its language tag
//   - ProvisioningRequest: immutable input of one pipeline invocation
//   - ProvisionedProcess: the remote hosted process and its lifecycle status
//   - SecretAssignment: the outcome of setting one secret on a process
//   - RegistrationRecord: the token created for a provisioned process
//   - PipelineResult: aggregate of everything a pipeline run produced
//
// # Provider Interfaces
//
// HostingProvider: create, upload, start and inspect hosted processes.
//
// SecretSetter: sets named secret values on a hosted process.
//
// TokenRegistrar: creates token records for provisioned processes.
//
// # Storage Interfaces
//
// StorageBackend: content-addressed archival of pipeline reports and uploaded
// bundles across file, S3 and IPFS backends.
//
// StorageBackendFactory: creates storage backends from URI strings.
package interfaces
