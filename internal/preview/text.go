package preview

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

var reMetaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-z0-9_:.-]+)`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText turns file bytes into valid UTF-8. HTML that declares a
// legacy charset in a <meta> tag is transcoded; anything else is read as
// UTF-8 with invalid sequences replaced by U+FFFD.
func DecodeText(data []byte, isHTML bool) string {
	if bytes.HasPrefix(data, utf8BOM) {
		data = data[len(utf8BOM):]
	} else if isHTML {
		head := data
		if len(head) > 1024 {
			head = head[:1024]
		}
		if m := reMetaCharset.FindSubmatch(head); m != nil {
			if enc, name := charset.Lookup(string(m[1])); enc != nil && name != "utf-8" {
				if out, err := enc.NewDecoder().Bytes(data); err == nil {
					data = out
				}
			}
		}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}
