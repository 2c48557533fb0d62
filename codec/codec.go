// Package codec implements the small set of pure, stateless encode/decode
// helpers the indexer needs to turn raw calldata and event-log data into
// ethscription identity: hex <-> bytes, strict UTF-8 decoding, SHA-256
// content hashing, data-URI parsing, and the ESIP-6/ESIP-7 extensions.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
	"unicode/utf8"
)

const dataURIPrefix = "data:"

// HexToBytes strictly decodes a "0x"-prefixed hex string. It rejects the
// empty string and the bare "0x" prefix with nothing after it, since both
// are meaningless as ethscription payload calldata.
func HexToBytes(s string) ([]byte, bool) {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return nil, false
	}

	body := s[2:]
	if len(body) == 0 {
		return nil, false
	}

	b, err := hex.DecodeString(body)
	if err != nil {
		return nil, false
	}

	return b, true
}

// ToUTF8 strictly validates b as UTF-8 and returns it as a string, or
// reports false if it contains any invalid sequence.
func ToUTF8(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}

	return string(b), true
}

// SHA256LowerHex returns the "0x"-prefixed, lowercase-hex SHA-256 digest of
// b — the content-addressed identity of an ethscription.
func SHA256LowerHex(b []byte) string {
	sum := sha256.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:])
}

// DataURI is the parsed form of a "data:[mime][;params],body" payload.
type DataURI struct {
	MIME     string
	Params   []string
	Body     string
	IsBase64 bool
}

// ParseDataURI parses s as a data URI. It reports false if s does not begin
// with the literal prefix "data:".
func ParseDataURI(s string) (DataURI, bool) {
	if !strings.HasPrefix(s, dataURIPrefix) {
		return DataURI{}, false
	}

	rest := s[len(dataURIPrefix):]

	commaIdx := strings.IndexByte(rest, ',')
	if commaIdx < 0 {
		return DataURI{}, false
	}

	header := rest[:commaIdx]
	body := rest[commaIdx+1:]

	var mime string
	var params []string
	if semiIdx := strings.IndexByte(header, ';'); semiIdx >= 0 {
		mime = header[:semiIdx]
		params = strings.Split(header[semiIdx+1:], ";")
	} else {
		mime = header
	}

	isBase64 := false
	for _, p := range params {
		if p == "base64" {
			isBase64 = true
			break
		}
	}

	return DataURI{MIME: mime, Params: params, Body: body, IsBase64: isBase64}, true
}

// ContentType returns the MIME type of a data URI, defaulting to
// "text/plain" when none is present.
func ContentType(uri string) string {
	d, ok := ParseDataURI(uri)
	if !ok || d.MIME == "" {
		return "text/plain"
	}

	return d.MIME
}

// HasRuleESIP6 reports whether the literal substring "rule=esip6" appears
// anywhere in uri. This is checked against the original, pre-canonicalized
// URI, per the ESIP-6 opt-in rule.
func HasRuleESIP6(uri string) bool {
	return strings.Contains(uri, "rule=esip6")
}

const esip6Param = "rule=esip6"

// StripRuleESIP6 removes the "rule=esip6" opt-in marker from a data URI,
// whether it appears in the parameter list ("data:text/plain;rule=esip6,x")
// or as a trailing ";rule=esip6" after the body ("data:,x;rule=esip6"). The
// marker is a governance instruction, not content: two submissions
// differing only by this marker must hash to the same base identity so the
// second can be recognized as a sequenced ESIP-6 sibling of the first
// rather than an unrelated inscription.
func StripRuleESIP6(uri string) string {
	d, ok := ParseDataURI(uri)
	if !ok {
		return uri
	}

	body := d.Body
	for strings.HasSuffix(body, ";"+esip6Param) {
		body = strings.TrimSuffix(body, ";"+esip6Param)
	}
	if body == d.Body && !containsParam(d.Params, esip6Param) {
		return uri
	}

	remaining := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		if p != esip6Param {
			remaining = append(remaining, p)
		}
	}

	return renderDataURI(d.MIME, remaining, body, d.IsBase64)
}

const gzipParam = "gzip"

// InflateGzip canonicalizes an ESIP-7 gzip-compressed data URI: if its
// params contain the "gzip" token, the body is base64-decoded, gunzipped,
// and re-rendered as a data URI with the "gzip" param removed. Ethscription
// identity is computed over this canonical form, never the compressed one.
//
// If the URI is not a gzip data URI, or inflation fails for any reason, the
// original string is returned unchanged and changed is false — callers
// should fall through and hash the original URI.
func InflateGzip(uri string) (canonical string, changed bool) {
	d, ok := ParseDataURI(uri)
	if !ok {
		return uri, false
	}

	if !containsParam(d.Params, gzipParam) {
		return uri, false
	}

	raw := []byte(d.Body)
	if d.IsBase64 {
		decoded, err := base64.StdEncoding.DecodeString(d.Body)
		if err != nil {
			return uri, false
		}
		raw = decoded
	}

	inflated, err := gunzip(raw)
	if err != nil {
		return uri, false
	}

	remaining := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		if p != gzipParam {
			remaining = append(remaining, p)
		}
	}

	return renderDataURI(d.MIME, remaining, string(inflated), false), true
}

func containsParam(params []string, name string) bool {
	for _, p := range params {
		if p == name {
			return true
		}
	}

	return false
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func renderDataURI(mime string, params []string, body string, base64Encoded bool) string {
	var sb strings.Builder
	sb.WriteString(dataURIPrefix)
	sb.WriteString(mime)
	for _, p := range params {
		sb.WriteByte(';')
		sb.WriteString(p)
	}
	if base64Encoded {
		sb.WriteString(";base64")
	}
	sb.WriteByte(',')
	sb.WriteString(body)

	return sb.String()
}

// Canonicalize applies the full identity-normalization pipeline to a raw
// data URI: stripping the ESIP-6 opt-in marker (before and again after
// inflation, since an inflated body may end with it) and ESIP-7 gzip
// inflation (if applicable), producing the exact string that should be
// SHA-256 hashed for ethscription identity. Canonicalize is idempotent:
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(uri string) string {
	canonical, _ := InflateGzip(StripRuleESIP6(uri))
	return StripRuleESIP6(canonical)
}
