/*
Package clients provides HTTP clients for the hosting provider and the token
registration backend.

# Transport

Transport is the single authenticated request/response helper every client is
built on. It enforces a non-empty auth token and a method in
{GET, POST, PUT, DELETE} before any network I/O, attaches the auth header in the
configured style, and converts any non-2xx response into a *RemoteError. It
never retries; retry policy belongs to the caller.

# Client Types

  - HostingClient: create, upload, start, status and list calls against the hosting API
  - LaunchClient: token registration calls against the registration backend

Both clients implement the provider interfaces from the interfaces package, and
MockHostingClient/MockLaunchClient provide testify mocks of the same surface.

# Example Usage

	hosting := clients.NewHostingClient(clients.DefaultHostingURL, apiKey, log)
	created, err := hosting.CreateProcess(ctx, "my agent", "")
	if err != nil {
	    return err
	}
	status, err := hosting.GetStatus(ctx, created.Address)
*/
package clients
