package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// oggMagic opens every Ogg page.
var oggMagic = []byte("OggS")

// supported audio container extensions
var audioExtensions = map[string]bool{
	".ogg":  true,
	".opus": true,
	".oga":  true,
}

// AudioFileInfo holds information about an audio file to be shared
type AudioFileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64
}

// ValidateAudioFile checks that path is a readable, non-empty Ogg file.
func ValidateAudioFile(path string) (AudioFileInfo, error) {
	if path == "" {
		return AudioFileInfo{}, errors.New("no audio file specified")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return AudioFileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return AudioFileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return AudioFileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return AudioFileInfo{}, fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return AudioFileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	if !audioExtensions[ext] {
		return AudioFileInfo{}, fmt.Errorf("%s: unsupported extension %q (want .ogg, .opus or .oga)", path, ext)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return AudioFileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	defer file.Close()

	head := make([]byte, len(oggMagic))
	if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, oggMagic) {
		return AudioFileInfo{}, fmt.Errorf("%s: not an Ogg stream", path)
	}

	return AudioFileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
	}, nil
}
