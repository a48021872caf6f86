package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"os"

	"github.com/rs/zerolog/log"
)

// FaviconSize is the edge length clients expect for server icons.
const FaviconSize = 64

const faviconPrefix = "data:image/png;base64,"

// LoadFavicon reads a PNG file and returns it as a data URI.
func LoadFavicon(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read favicon %s: %w", path, err)
	}

	img, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("favicon %s is not a PNG: %w", path, err)
	}

	if img.Width != FaviconSize || img.Height != FaviconSize {
		log.Warn().
			Str("path", path).
			Int("width", img.Width).
			Int("height", img.Height).
			Msg("favicon is not 64x64, clients may not display it")
	}

	return faviconPrefix + base64.StdEncoding.EncodeToString(data), nil
}

func loadFaviconOrWarn(path string) string {
	if path == "" {
		return ""
	}
	favicon, err := LoadFavicon(path)
	if err != nil {
		log.Warn().Err(err).Msg("favicon disabled")
		return ""
	}
	return favicon
}
