package platform

// ObjectVersion is a typed view of a versioned information object. The
// upstream payloads are loosely shaped; normalization happens once, in
// the client, so callers never reach into raw maps.
type ObjectVersion struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`

	// Parent resource identity, used when deriving sibling folders and
	// spawning new object versions.
	ObjectID          string `json:"object_id,omitempty"`
	ParentFolderID    string `json:"parent_folder_id,omitempty"`
	NamingAuthorityID string `json:"naming_authority_id,omitempty"`
}

// FileDescriptor identifies one file attached to an object version.
type FileDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FolderEntry is one child of a folder listing.
type FolderEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserInfo is the authenticated platform user.
type UserInfo struct {
	ID       string `json:"id"`
	Login    string `json:"login,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Post     string `json:"post,omitempty"`
}

// CreateObjectRequest describes a new object (or, when ObjectID is set,
// a new version of an existing object) with one attached file slot.
type CreateObjectRequest struct {
	Name              string
	ParentFolderID    string
	NamingAuthorityID string
	Description       string
	FileName          string
	ObjectID          string
}
