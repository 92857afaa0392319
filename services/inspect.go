package services

import (
	"anclora/types"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	exif "github.com/dsoprea/go-exif/v3"
	"github.com/gabriel-vasile/mimetype"
)

// Inspector interface defines methods for learning about a payload before it is converted
type Inspector interface {
	Inspect(path, name string) (*types.SourceFile, error)
	ExtractImageMetadata(filePath string) *types.ImageMetadata
	ValidateFileName(name string) error
}

// inspector implements the Inspector interface
type inspector struct{}

// NewInspector creates a new source inspector
func NewInspector() Inspector {
	return &inspector{}
}

var trackPrefix = regexp.MustCompile(`^(\d+)[\.\-\s]+(.+)`)

// Inspect builds the SourceFile for a payload stored at path and uploaded as name
func (in *inspector) Inspect(path, name string) (*types.SourceFile, error) {
	if err := in.ValidateFileName(name); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", name)
	}

	source := &types.SourceFile{
		Name: name,
		Size: info.Size(),
		Path: path,
	}
	if info.Size() == 0 {
		return source, nil
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		log.Printf("Warning: Could not detect type of %s: %v", name, err)
		return source, nil
	}

	source.Type = mtype.String()
	metadata := &types.SourceMetadata{Extension: strings.TrimPrefix(mtype.Extension(), ".")}
	switch {
	case strings.HasPrefix(source.Type, "audio/"):
		fallback := extractMetadataFromName(name)
		audio, err := readAudioTags(path)
		if err != nil {
			log.Printf("Warning: Could not parse audio metadata from %s: %v", name, err)
			audio = fallback
		}
		if audio.Title == "" {
			audio.Title = fallback.Title
		}
		if audio.TrackNumber == 0 {
			audio.TrackNumber = fallback.TrackNumber
		}
		metadata.Audio = audio
	case strings.HasPrefix(source.Type, "image/"):
		metadata.Image = in.ExtractImageMetadata(path)
	}
	source.Metadata = metadata

	return source, nil
}

// readAudioTags reads the embedded tags of an audio file
func readAudioTags(filePath string) (*types.AudioMetadata, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		return nil, err
	}

	metadata := &types.AudioMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Format: string(meta.FileType()),
	}
	metadata.TrackNumber, _ = meta.Track()

	return metadata, nil
}

// ExtractImageMetadata summarises the EXIF block of an image, or returns nil
// when the image carries none
func (in *inspector) ExtractImageMetadata(filePath string) *types.ImageMetadata {
	file, err := os.Open(filePath)
	if err != nil {
		log.Printf("Warning: Could not open image %s: %v", filePath, err)
		return nil
	}
	defer file.Close()

	return summarizeExif(file)
}

func summarizeExif(rs io.ReadSeeker) *types.ImageMetadata {
	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "no exif") {
			log.Printf("Warning: Could not read EXIF data: %v", err)
		}
		return nil
	}

	metadata := &types.ImageMetadata{TagCount: len(tags)}
	for _, t := range tags {
		switch {
		case t.TagName == "Model":
			metadata.CameraModel = strings.TrimSpace(t.Formatted)
		case t.TagName == "DateTimeOriginal":
			metadata.TakenAt = t.Formatted
		case t.TagName == "DateTime" && metadata.TakenAt == "":
			metadata.TakenAt = t.Formatted
		}
		if strings.HasPrefix(t.TagName, "GPS") || strings.Contains(t.IfdPath, "GPS") {
			metadata.HasGPS = true
		}
	}
	return metadata
}

// extractMetadataFromName derives a title and track number from a file name
// such as "01 - Song Title.flac"
func extractMetadataFromName(name string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{}

	title := strings.TrimSuffix(name, filepath.Ext(name))
	if matches := trackPrefix.FindStringSubmatch(title); len(matches) > 2 {
		title = matches[2]
		if trackNum, err := strconv.Atoi(matches[1]); err == nil {
			metadata.TrackNumber = trackNum
		}
	}
	metadata.Title = title

	return metadata
}

// ValidateFileName rejects upload names that could escape the upload directory
func (in *inspector) ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty file name not allowed")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("directories not allowed in file name")
	}
	return nil
}
