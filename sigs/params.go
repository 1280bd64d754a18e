package sigs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/stegodon/domain"
)

// Params are the parameters attached to a covered-components list:
// created/expires/nonce/keyid/alg/tag. Zero value of Created/Expires
// means "not set".
type Params struct {
	Created   time.Time
	Expires   time.Time
	Nonce     string
	KeyID     string
	Algorithm domain.Algorithm
	Tag       string
}

func (p Params) hasCreated() bool { return !p.Created.IsZero() }
func (p Params) hasExpires() bool { return !p.Expires.IsZero() }

// format renders the ";"-joined parameter list following the
// "@signature-params" value and the Signature-Input parameter section,
// in the order created, expires, nonce, keyid, alg, tag.
func (p Params) format() string {
	var parts []string
	if p.hasCreated() {
		parts = append(parts, fmt.Sprintf("created=%d", p.Created.Unix()))
	}
	if p.hasExpires() {
		parts = append(parts, fmt.Sprintf("expires=%d", p.Expires.Unix()))
	}
	if p.Nonce != "" {
		parts = append(parts, fmt.Sprintf("nonce=%q", p.Nonce))
	}
	if p.KeyID != "" {
		parts = append(parts, fmt.Sprintf("keyid=%q", p.KeyID))
	}
	if p.Algorithm != "" {
		parts = append(parts, fmt.Sprintf("alg=%q", string(p.Algorithm)))
	}
	if p.Tag != "" {
		parts = append(parts, fmt.Sprintf("tag=%q", p.Tag))
	}
	return strings.Join(parts, ";")
}

var quotedComponent = regexp.MustCompile(`"([^"]+)"`)
var paramPair = regexp.MustCompile(`([a-z]+)=("[^"]*"|[^;]+)`)

// parseSignatureInput parses one label's value out of a Signature-Input
// header, e.g. ("@method" "@target-uri");created=123;keyid="k".
func parseSignatureInput(value string) (components []Component, params Params, err error) {
	listEnd := strings.Index(value, ")")
	if !strings.HasPrefix(strings.TrimSpace(value), "(") || listEnd < 0 {
		return nil, Params{}, fmt.Errorf("malformed covered-components list")
	}
	componentsPart := value[:listEnd+1]
	rest := value[listEnd+1:]

	for _, m := range quotedComponent.FindAllStringSubmatch(componentsPart, -1) {
		components = append(components, Component(m[1]))
	}
	if len(components) == 0 {
		return nil, Params{}, fmt.Errorf("missing covered components")
	}

	rest = strings.TrimPrefix(rest, ";")
	for _, m := range paramPair.FindAllStringSubmatch(rest, -1) {
		key := m[1]
		val := strings.Trim(m[2], `"`)
		switch key {
		case "created":
			ts, perr := strconv.ParseInt(val, 10, 64)
			if perr != nil {
				return nil, Params{}, fmt.Errorf("invalid created parameter: %w", perr)
			}
			params.Created = time.Unix(ts, 0).UTC()
		case "expires":
			ts, perr := strconv.ParseInt(val, 10, 64)
			if perr != nil {
				return nil, Params{}, fmt.Errorf("invalid expires parameter: %w", perr)
			}
			params.Expires = time.Unix(ts, 0).UTC()
		case "nonce":
			params.Nonce = val
		case "keyid":
			params.KeyID = val
		case "alg":
			params.Algorithm = domain.Algorithm(val)
		case "tag":
			params.Tag = val
		}
	}
	return components, params, nil
}
