package jobs

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrMalformedLine is returned by the line parsers; callers skip such lines
var ErrMalformedLine = errors.New("malformed line")

// Identifier is one line of the extraction tool's identifier file
type Identifier struct {
	BSSID string
	ESSID string
}

// ParseIdentifierLine parses "<bssid><whitespace><essid>". The ESSID is the
// rest of the line after the first whitespace run and may contain spaces.
func ParseIdentifierLine(line string) (Identifier, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Identifier{}, fmt.Errorf("%w: blank", ErrMalformedLine)
	}

	sep := strings.IndexFunc(line, unicode.IsSpace)
	if sep <= 0 {
		return Identifier{}, fmt.Errorf("%w: no separator in %q", ErrMalformedLine, line)
	}
	rest := strings.TrimLeftFunc(line[sep:], unicode.IsSpace)
	if rest == "" {
		return Identifier{}, fmt.Errorf("%w: empty essid in %q", ErrMalformedLine, line)
	}
	return Identifier{BSSID: line[:sep], ESSID: rest}, nil
}

// CrackedPair is one line of the cracking tool's output file
type CrackedPair struct {
	ESSID    string
	Password string
}

// ParseCrackedLine parses "*<essid>*<password>". The password is everything
// after the second '*', so it may itself contain '*'.
func ParseCrackedLine(line string) (CrackedPair, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return CrackedPair{}, fmt.Errorf("%w: missing leading '*'", ErrMalformedLine)
	}
	parts := strings.SplitN(line[1:], "*", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CrackedPair{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	return CrackedPair{ESSID: parts[0], Password: parts[1]}, nil
}

// HashLine is the subset of a WPA*TYPE*MIC*AP-MAC*CLIENT-MAC*ESSID-HEX*... line the engine reads
type HashLine struct {
	Type      string
	APMAC     string
	ClientMAC string
	ESSIDHex  string
}

// ESSID decodes the hex ESSID field
func (h HashLine) ESSID() string {
	b, _ := hex.DecodeString(h.ESSIDHex)
	return string(b)
}

// ParseHashLine locates the ESSID field of a handshake line
func ParseHashLine(line string) (HashLine, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, "*")
	if len(fields) < 6 || fields[0] != "WPA" {
		return HashLine{}, fmt.Errorf("%w: not a WPA hash line", ErrMalformedLine)
	}
	essidHex := strings.ToLower(fields[5])
	if _, err := hex.DecodeString(essidHex); err != nil || essidHex == "" {
		return HashLine{}, fmt.Errorf("%w: bad essid field %q", ErrMalformedLine, fields[5])
	}
	return HashLine{Type: fields[1], APMAC: fields[3], ClientMAC: fields[4], ESSIDHex: essidHex}, nil
}

// EncodeESSID returns the lowercase hex form used in handshake lines
func EncodeESSID(essid string) string {
	return hex.EncodeToString([]byte(essid))
}

// StatusUpdate is one parsed --status-json line
type StatusUpdate struct {
	Fraction      float64 // 0..1 of the current attempt
	Speed         int64   // H/s summed across devices
	EstimatedStop time.Time
	Recovered     int
}

type statusJSON struct {
	Progress        []int64 `json:"progress"`
	RecoveredHashes []int   `json:"recovered_hashes"`
	EstimatedStop   int64   `json:"estimated_stop"`
	Devices         []struct {
		Speed int64 `json:"speed"`
	} `json:"devices"`
}

// ParseStatusLine parses a JSON status line. Non-status output returns false.
func ParseStatusLine(line string) (StatusUpdate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return StatusUpdate{}, false
	}

	var raw statusJSON
	if err := json.Unmarshal([]byte(line), &raw); err != nil || len(raw.Progress) != 2 {
		return StatusUpdate{}, false
	}

	var upd StatusUpdate
	if raw.Progress[1] > 0 {
		upd.Fraction = float64(raw.Progress[0]) / float64(raw.Progress[1])
		if upd.Fraction > 1 {
			upd.Fraction = 1
		}
	}
	for _, d := range raw.Devices {
		upd.Speed += d.Speed
	}
	if raw.EstimatedStop > 0 {
		upd.EstimatedStop = time.Unix(raw.EstimatedStop, 0)
	}
	if len(raw.RecoveredHashes) > 0 {
		upd.Recovered = raw.RecoveredHashes[0]
	}
	return upd, true
}

// FormatSpeed renders a hash rate the way the tool prints it
func FormatSpeed(hs int64) string {
	units := []string{"H/s", "kH/s", "MH/s", "GH/s", "TH/s"}
	v := float64(hs)
	i := 0
	for v >= 1000 && i < len(units)-1 {
		v /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", hs, units[0])
	}
	return fmt.Sprintf("%.2f %s", v, units[i])
}

// FormatETA renders the time left until stop, relative to now
func FormatETA(stop, now time.Time) string {
	if stop.IsZero() {
		return ""
	}
	left := stop.Sub(now)
	if left <= 0 {
		return "0s"
	}
	return left.Round(time.Second).String()
}
