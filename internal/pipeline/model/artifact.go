package model

import "time"

// ArtifactVersion identifies one registry-stored deployable image.
// Immutable once created by the publisher.
type ArtifactVersion struct {
	Registry string    `json:"registry"` // e.g. registry.example.com/apps
	Name     string    `json:"name"`     // image name
	Tag      string    `json:"tag"`      // derived from environment + short commit
	BuiltAt  time.Time `json:"builtAt"`
}

// Ref returns the full registry reference registry/name:tag.
func (a ArtifactVersion) Ref() string {
	return a.Registry + "/" + a.Name + ":" + a.Tag
}
