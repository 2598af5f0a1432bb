// Package markers decodes the machine-readable codes printed on assessment
// pages. Each page corner carries a code naming the paper, page and version
// the sheet was printed as; decoding them is how a raw scan becomes a staged
// image with a known position.
package markers

import (
	"errors"
	"fmt"
	"strconv"

	regexp "github.com/wasilibs/go-re2"
)

// magic is the suffix stamped on every code so stray barcodes picked up from
// scanned sheets are not mistaken for page markers.
const magic = "14159"

// ErrInvalidMarker indicates a code that does not parse as a page marker.
var ErrInvalidMarker = errors.New("invalid page marker")

// ErrMarkerMismatch indicates corner codes on one image that decode to
// different positions.
var ErrMarkerMismatch = errors.New("page markers disagree")

// Marker is the decoded position of one printed page.
type Marker struct {
	Paper   int
	Page    int
	Version int
}

func (m Marker) String() string {
	return fmt.Sprintf("T%04dP%02dV%d", m.Paper, m.Page, m.Version)
}

// Decoder parses marker codes of the form TnnnnPnnVn followed by the magic
// suffix. Paper numbers run to five digits, pages to three, versions to two.
type Decoder struct{ re *regexp.Regexp }

// NewDecoder compiles the marker pattern.
func NewDecoder() *Decoder {
	return &Decoder{re: regexp.MustCompile(`^T(\d{4,5})P(\d{2,3})V(\d{1,2})(\d{5})$`)}
}

// Decode parses a single marker code. A scanner reading an upside-down sheet
// reports the code reversed, so the reversed form is accepted too.
func (d *Decoder) Decode(code string) (Marker, error) {
	if m, ok := d.match(code); ok {
		return m, nil
	}
	if m, ok := d.match(reverse(code)); ok {
		return m, nil
	}
	return Marker{}, fmt.Errorf("%w: %q", ErrInvalidMarker, code)
}

// Reconcile decodes the corner codes read off one image and requires them to
// agree. Unreadable corners are tolerated as long as at least two codes
// decode; disagreeing codes mean the image is damaged or composite.
func (d *Decoder) Reconcile(codes []string) (Marker, error) {
	var decoded []Marker
	for _, code := range codes {
		m, err := d.Decode(code)
		if err != nil {
			continue
		}
		decoded = append(decoded, m)
	}
	if len(decoded) < 2 {
		return Marker{}, fmt.Errorf("%w: %d of %d corner codes readable", ErrInvalidMarker, len(decoded), len(codes))
	}
	for _, m := range decoded[1:] {
		if m != decoded[0] {
			return Marker{}, fmt.Errorf("%w: %s vs %s", ErrMarkerMismatch, decoded[0], m)
		}
	}
	return decoded[0], nil
}

func (d *Decoder) match(code string) (Marker, bool) {
	groups := d.re.FindStringSubmatch(code)
	if groups == nil || groups[4] != magic {
		return Marker{}, false
	}
	paper, err := strconv.Atoi(groups[1])
	if err != nil {
		return Marker{}, false
	}
	page, err := strconv.Atoi(groups[2])
	if err != nil {
		return Marker{}, false
	}
	version, err := strconv.Atoi(groups[3])
	if err != nil {
		return Marker{}, false
	}
	if paper < 1 || page < 1 || version < 1 {
		return Marker{}, false
	}
	return Marker{Paper: paper, Page: page, Version: version}, true
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
