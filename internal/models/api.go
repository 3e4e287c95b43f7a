package models

// The payloads below travel as JSON. Every Message field is a base64url
// (unpadded) encoding of a binary protocol message.

// RegisterStartRequest opens a registration for a new secret tag.
type RegisterStartRequest struct {
	Name              string        `json:"name"`
	ColorCode         string        `json:"color_code,omitempty"`
	SecurityLevel     SecurityLevel `json:"security_level,omitempty"`
	DeviceFingerprint string        `json:"device_fingerprint,omitempty"`
	// MigratedFrom names the legacy tag this registration replaces.
	MigratedFrom string `json:"migrated_from,omitempty"`
	Message      string `json:"message"`
}

// RegisterStartResponse carries the server-assigned tag ID and the evaluated element.
type RegisterStartResponse struct {
	TagID   string `json:"tag_id"`
	Message string `json:"message"`
}

// RegisterFinishRequest uploads the registration record.
type RegisterFinishRequest struct {
	TagID   string `json:"tag_id"`
	Message string `json:"message"`
}

// LoginStartRequest opens a login exchange for a tag.
type LoginStartRequest struct {
	TagID string `json:"tag_id"`
	// DeviceFingerprint must match the registered one for enhanced tags.
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Message           string `json:"message"`
}

// LoginStartResponse carries the server's credential response.
type LoginStartResponse struct {
	LoginID string `json:"login_id"`
	Message string `json:"message"`
}

// LoginFinishRequest carries the client's key confirmation.
type LoginFinishRequest struct {
	LoginID string `json:"login_id"`
	Message string `json:"message"`
}

// TagList is the body of GET /secret-tags.
type TagList struct {
	Tags []Tag `json:"tags"`
}

// EnrollRequest asks the server to issue a client certificate for an owner.
type EnrollRequest struct {
	Owner string `json:"owner"`
}

// EnrollResponse carries the PEM-encoded client certificate and key.
type EnrollResponse struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}
