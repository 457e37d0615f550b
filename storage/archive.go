package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// ErrNoArchiveLocations is returned by OpenArchive when no URI is given.
var ErrNoArchiveLocations = errors.New("no archive locations configured")

// Archive stores pipeline results and uploaded bundles in a storage backend.
type Archive struct {
	backend interfaces.StorageBackend
}

func NewArchive(backend interfaces.StorageBackend) *Archive {
	return &Archive{backend: backend}
}

// OpenArchive parses the location URIs and combines them into one archive.
func OpenArchive(factory interfaces.StorageBackendFactory, uris []string) (*Archive, error) {
	if len(uris) == 0 {
		return nil, ErrNoArchiveLocations
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	backend, err := factory.CreateMultiBackend(locations)
	if err != nil {
		return nil, fmt.Errorf("could not open archive: %w", err)
	}
	return NewArchive(backend), nil
}

func (a *Archive) Backend() interfaces.StorageBackend {
	return a.backend
}

// StoreResult archives the JSON form of a pipeline result. Secret values are
// never part of it.
func (a *Archive) StoreResult(ctx context.Context, result *interfaces.PipelineResult) (interfaces.ContentID, error) {
	if result == nil {
		return interfaces.ContentID{}, errors.New("nil pipeline result")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not marshal pipeline result: %w", err)
	}
	return a.backend.Store(ctx, data, interfaces.ReportType)
}

func (a *Archive) FetchResult(ctx context.Context, id interfaces.ContentID) (*interfaces.PipelineResult, error) {
	data, err := a.backend.Fetch(ctx, id, interfaces.ReportType)
	if err != nil {
		return nil, err
	}

	var result interfaces.PipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("archived report %s is malformed: %w", id.String(), err)
	}
	return &result, nil
}

// StoreBundle archives the encoded bundle exactly as it was uploaded.
func (a *Archive) StoreBundle(ctx context.Context, encoded string) (interfaces.ContentID, error) {
	return a.backend.Store(ctx, []byte(encoded), interfaces.BundleType)
}

func (a *Archive) FetchBundle(ctx context.Context, id interfaces.ContentID) (string, error) {
	data, err := a.backend.Fetch(ctx, id, interfaces.BundleType)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
