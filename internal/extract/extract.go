// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract produces a best-effort plain-text body from a raw email
// message. It is deliberately not a full MIME parser: a structured pass via
// go-message is tried first, then a boundary-split heuristic, then the text
// after the header block. It never fails; every edge case degrades to
// returning raw text rather than an error.
package extract

import (
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Charsets commonly seen in the wild that go-message does not register
	// by default.
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// PlainText extracts the best available plain-text body from raw message
// content. Always returns a string; for unparseable input this is the
// trimmed raw content itself.
func PlainText(raw string) string {
	if body := structuredBody(raw); body != "" {
		return body
	}
	if body := boundaryBody(raw); body != "" {
		return body
	}
	if body := afterHeaders(raw); body != "" {
		return body
	}
	return strings.TrimSpace(raw)
}

// structuredBody walks the message with go-message, preferring a text/plain
// part, then a tag-stripped text/html part, then any text/* part. Returns
// "" on any parse failure so the caller can degrade.
func structuredBody(raw string) string {
	mr, err := mail.CreateReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}

	var plain, html, anyText string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		text := string(data)

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if plain == "" {
				plain = text
			}
		case strings.HasPrefix(contentType, "text/html"):
			if html == "" {
				html = text
			}
		case strings.HasPrefix(contentType, "text/"):
			if anyText == "" {
				anyText = text
			}
		}
	}

	if s := strings.TrimSpace(plain); s != "" {
		return s
	}
	if s := strings.TrimSpace(StripHTML(html)); s != "" {
		return s
	}
	return strings.TrimSpace(anyText)
}

var boundaryPattern = regexp.MustCompile(`(?i)boundary="?([^"\r\n;]+)"?`)

// boundaryBody splits on a declared multipart boundary and scans parts in
// order with the same preference as structuredBody. Used when go-message
// rejects the message but a boundary is still visible in the headers.
func boundaryBody(raw string) string {
	m := boundaryPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	boundary := strings.TrimSpace(m[1])
	if boundary == "" {
		return ""
	}

	var plain, html, anyText string
	for _, chunk := range strings.Split(raw, "--"+boundary) {
		headers, body, found := splitHeaderBlock(chunk)
		if !found {
			continue
		}
		contentType := partContentType(headers)

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if plain == "" {
				plain = body
			}
		case strings.HasPrefix(contentType, "text/html"):
			if html == "" {
				html = body
			}
		case strings.HasPrefix(contentType, "text/"):
			if anyText == "" {
				anyText = body
			}
		}
	}

	if s := strings.TrimSpace(plain); s != "" {
		return s
	}
	if s := strings.TrimSpace(StripHTML(html)); s != "" {
		return s
	}
	return strings.TrimSpace(anyText)
}

// afterHeaders returns everything after the first blank line following the
// header block, or "" when no blank line is found.
func afterHeaders(raw string) string {
	_, body, found := splitHeaderBlock(raw)
	if !found {
		return ""
	}
	return strings.TrimSpace(body)
}

// splitHeaderBlock divides a message or part at its first blank line.
func splitHeaderBlock(s string) (headers, body string, found bool) {
	if headers, body, found = strings.Cut(s, "\r\n\r\n"); found {
		return headers, body, true
	}
	return strings.Cut(s, "\n\n")
}

// partContentType pulls the media type out of a part's header block.
// Missing Content-Type defaults to text/plain per RFC 2045.
func partContentType(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
			mediaType, _, _ := strings.Cut(value, ";")
			return strings.ToLower(strings.TrimSpace(mediaType))
		}
	}
	return "text/plain"
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// StripHTML removes tags and decodes the core entities. Good enough for a
// transcript body; not a sanitiser.
func StripHTML(html string) string {
	return entities.Replace(tagPattern.ReplaceAllString(html, ""))
}
