// Package shortid derives the stable short fingerprint of a container ID
// used to name a sandbox's public hostname.
package shortid

// Length is the number of leading hex characters of the full container ID
// that identify a sandbox externally.
const Length = 12

// From returns the first 12 hex characters of a full container ID. IDs
// shorter than that are returned unchanged.
func From(id string) string {
	if len(id) > Length {
		return id[:Length]
	}
	return id
}

// Hostname returns the public hostname for a short ID, e.g.
// qa-abc123def456.example.com.
func Hostname(shortID, baseDomain string) string {
	return "qa-" + shortID + "." + baseDomain
}

// URL returns the public HTTPS URL for a short ID.
func URL(shortID, baseDomain string) string {
	return "https://" + Hostname(shortID, baseDomain)
}
