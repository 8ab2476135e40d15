// Package formats decodes raw sensor recordings into the canonical
// sounding model. Each sensor variant registers a parser against its
// sensor type; callers either declare the type or let Sniff choose one
// from the header content.
package formats

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"

	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// Parser converts one raw input into a canonical dataset.
type Parser interface {
	Sensor() sounding.SensorType
	Parse(ctx context.Context, r io.Reader, name string) (*sounding.Dataset, error)
}

var registry = map[sounding.SensorType]Parser{}

// Register adds a parser variant. New formats register here without
// touching the parse entry point. Duplicate registration panics: it is
// a programming error, caught at init.
func Register(p Parser) {
	if _, dup := registry[p.Sensor()]; dup {
		panic("formats: duplicate parser for sensor type " + string(p.Sensor()))
	}
	registry[p.Sensor()] = p
}

// Lookup returns the parser for a declared sensor type.
func Lookup(t sounding.SensorType) (Parser, bool) {
	p, ok := registry[t]
	return p, ok
}

// Parse decodes raw input into a canonical dataset. When declared is
// unknown or empty the header is sniffed to pick a variant.
func Parse(ctx context.Context, r io.Reader, name string, declared sounding.SensorType) (*sounding.Dataset, error) {
	if p, ok := registry[declared]; ok {
		return p.Parse(ctx, r, name)
	}

	// Content-sniffing fallback: buffer enough to inspect the header,
	// then hand the full stream to the chosen variant.
	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(4096)
	guessed := sniffHeader(string(head))
	log.Printf("formats: sensor type not declared for %s, sniffed %q", name, guessed)
	p, ok := registry[guessed]
	if !ok {
		return nil, &FormatError{Name: name, Msg: "cannot determine sensor type from content"}
	}
	return p.Parse(ctx, br, name)
}

// sniffHeader guesses a sensor variant from the header line. Column
// vocabulary is distinctive enough across the supported recorders:
// elevation columns mean topo-bathy LiDAR, attitude columns mean AUV
// telemetry, beam geometry means MBES.
func sniffHeader(head string) sounding.SensorType {
	line := head
	if i := strings.IndexAny(head, "\r\n"); i >= 0 {
		line = head[:i]
	}
	line = strings.ToLower(line)

	has := func(names ...string) bool {
		for _, n := range names {
			for _, c := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == '\t' }) {
				if strings.TrimSpace(c) == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("elevation", "altitude", "classification", "return_number"):
		return sounding.SensorLiDAR
	case has("heading", "pitch", "roll", "velocity"):
		return sounding.SensorAUV
	case has("beam_angle", "beam", "ping_id"):
		return sounding.SensorMBES
	case has("frequency_khz", "transducer"):
		return sounding.SensorSBES
	default:
		return sounding.SensorSinglebeam
	}
}
