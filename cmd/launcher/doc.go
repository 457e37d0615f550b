// Package main (cmd/launcher) turns local source files into a running hosted
// agent and optionally registers a token for it.
//
// The deploy command runs the whole pipeline: create the process, upload the
// sources, set secrets, start it, wait for compilation and, with --register,
// create the token and print the handoff link a human uses to finish the
// on-chain deployment. The result is printed even when a step fails, and the
// command exits with status 1 unless every attempted step succeeded.
//
// Secret values given with --secret NAME=REF may reference env:VAR, file:/path
// or vault:mount/path#key and are resolved before anything remote is touched.
//
// Example usage:
//
//	export AGENTVERSE_API_KEY=...
//	launcher deploy --name "Price Oracle" --source oracle.py \
//	    --secret OPENAI_API_KEY=env:OPENAI_API_KEY \
//	    --register --symbol ORCL --chain bsc
//
//	launcher swarm --manifest swarm.yaml --output text
//	launcher check-token --token-address 0x...
package main
