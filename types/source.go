package types

// SourceFile references the payload submitted for conversion. The payload
// itself stays on disk at Path and is owned by the caller.
type SourceFile struct {
	Name     string          `json:"name"`
	Size     int64           `json:"size"`
	Type     string          `json:"type,omitempty"` // detected MIME type
	Path     string          `json:"-"`
	Metadata *SourceMetadata `json:"metadata,omitempty"`
}

// SourceMetadata holds whatever could be learned from the payload before upload
type SourceMetadata struct {
	Extension string         `json:"extension,omitempty"`
	Audio     *AudioMetadata `json:"audio,omitempty"`
	Image     *ImageMetadata `json:"image,omitempty"`
}

// AudioMetadata represents metadata for an audio file
type AudioMetadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	TrackNumber int    `json:"trackNumber,omitempty"`
	Format      string `json:"format,omitempty"`
}

// ImageMetadata summarises the EXIF block of an image
type ImageMetadata struct {
	CameraModel string `json:"cameraModel,omitempty"`
	TakenAt     string `json:"takenAt,omitempty"`
	HasGPS      bool   `json:"hasGps"`
	TagCount    int    `json:"tagCount"`
}
