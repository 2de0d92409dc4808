package driven

import "context"

// RemoteFile is an object read from the remote repository. SHA is the
// revision marker required to authorize an update of that object.
type RemoteFile struct {
	Path    string
	SHA     string
	Content []byte
}

// RemoteStore defines the driven port for the remote repository object
// store that published artifacts land in.
type RemoteStore interface {
	// GetFile reads the object at path. Returns (nil, nil) when no object
	// exists there.
	GetFile(ctx context.Context, path string) (*RemoteFile, error)

	// CreateFile creates a new object at path.
	CreateFile(ctx context.Context, path string, content []byte, message string) error

	// UpdateFile replaces the object at path. sha must be the current
	// revision marker of the existing object; updates without it are
	// rejected to avoid lost-update races against concurrent edits.
	UpdateFile(ctx context.Context, path string, content []byte, sha, message string) error
}
