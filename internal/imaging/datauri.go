package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var dataURIPrefix = []byte("data:")

// DecodeDataURI unwraps `data:<mime>;base64,<payload>`. ok is false when raw is not a
// data URI, in which case raw should be used as is.
func DecodeDataURI(raw []byte) (data []byte, mime string, ok bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, dataURIPrefix) {
		return nil, "", false, nil
	}

	comma := bytes.IndexByte(trimmed, ',')
	if comma < 0 {
		return nil, "", true, errors.New("malformed data URI: missing payload separator")
	}
	header := string(trimmed[len(dataURIPrefix):comma])
	payload := trimmed[comma+1:]

	params := strings.Split(header, ";")
	mime = strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, mime, true, fmt.Errorf("unsupported data URI encoding %q", header)
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(decoded, payload)
	if err != nil {
		// Some encoders drop the padding.
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(string(payload), "="))
		if err != nil {
			return nil, mime, true, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return decoded, mime, true, nil
	}
	return decoded[:n], mime, true, nil
}
