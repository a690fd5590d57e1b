package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Workflow is a stored definition with its ownership metadata
type Workflow struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"orgId,omitempty"`
	Name       string     `json:"name,omitempty"`
	Definition Definition `json:"definition"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// Fingerprint returns a content hash of the definition, used to key validation caches
func (d *Definition) Fingerprint() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
