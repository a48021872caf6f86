// Package status builds the payloads pingd answers with: the modern JSON
// status response, the legacy response strings, and the short-lived cache
// that keeps repeated queries from rebuilding them.
package status

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Response is the JSON body of a modern status response.
type Response struct {
	Version     Version     `json:"version"`
	Players     Players     `json:"players"`
	Description Description `json:"description"`
	Favicon     string      `json:"favicon,omitempty"`
}

// Version identifies the server software.
type Version struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

// Players holds player counts and the optional sample.
type Players struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []PlayerSample `json:"sample,omitempty"`
}

// PlayerSample is one entry of the player list shown on hover.
type PlayerSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Description is the MOTD. Servers may also send it as a bare string,
// which UnmarshalJSON accepts.
type Description struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts both {"text": "..."} and "...".
func (d *Description) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		d.Text = text
		return nil
	}

	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to parse description: %w", err)
	}
	d.Text = obj.Text
	return nil
}

// Marshal serializes the response.
func (r *Response) Marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status response: %w", err)
	}
	return string(data), nil
}

// ParseResponse decodes a status JSON payload.
func ParseResponse(payload string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &resp, nil
}

// Legacy response separators.
const (
	legacySeparator = "§"
	legacyNull      = "\x00"
)

// LegacyBasic formats the basic legacy response body: MOTD§online§max.
func LegacyBasic(motd string, online, maxPlayers int) string {
	return strings.Join([]string{motd, strconv.Itoa(online), strconv.Itoa(maxPlayers)}, legacySeparator)
}

// LegacyExtended formats the extended legacy response body:
// §1 NUL protocol NUL version NUL MOTD NUL online NUL max.
func LegacyExtended(protocol int, version, motd string, online, maxPlayers int) string {
	return strings.Join([]string{
		legacySeparator + "1",
		strconv.Itoa(protocol),
		version,
		motd,
		strconv.Itoa(online),
		strconv.Itoa(maxPlayers),
	}, legacyNull)
}

// ParseLegacy splits a legacy response body into its fields. Extended
// responses yield [protocol, version, motd, online, max], basic ones
// [motd, online, max].
func ParseLegacy(body string) (fields []string, extended bool) {
	if strings.HasPrefix(body, legacySeparator+"1"+legacyNull) {
		return strings.Split(body, legacyNull)[1:], true
	}

	parts := strings.Split(body, legacySeparator)
	if len(parts) < 3 {
		return parts, false
	}
	// The MOTD itself may contain section signs (formatting codes).
	n := len(parts)
	return []string{strings.Join(parts[:n-2], legacySeparator), parts[n-2], parts[n-1]}, false
}
