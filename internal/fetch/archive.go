package fetch

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
)

// writeArchiveRecord appends a request/response record pair to w in the
// Web-Archive record convention: gzip-compressed, each record
// opening with a literal "WARC/1.0" version line followed by colon-delimited
// header fields, a blank line, then the record payload. Record-type markers
// and WARC-Target-URI values are byte-exact with that convention so external
// WARC readers can iterate the bundle.
func writeArchiveRecord(w io.Writer, targetURL string, reqHeaders http.Header, status int, statusText string, respHeaders http.Header, body []byte, now time.Time) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()

	if err := writeRequestRecord(gz, targetURL, reqHeaders, now); err != nil {
		return err
	}
	if err := writeResponseRecord(gz, targetURL, status, statusText, respHeaders, body, now); err != nil {
		return err
	}
	return nil
}

func writeRequestRecord(w io.Writer, targetURL string, headers http.Header, now time.Time) error {
	payload := formatHTTPHeaders(headers)
	return writeRecord(w, "request", targetURL, now, []byte(payload))
}

func writeResponseRecord(w io.Writer, targetURL string, status int, statusText string, headers http.Header, body []byte, now time.Time) error {
	statusLine := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, statusText)
	payload := statusLine + formatHTTPHeaders(headers) + "\r\n" + string(body)
	return writeRecord(w, "response", targetURL, now, []byte(payload))
}

func writeRecord(w io.Writer, recordType, targetURL string, now time.Time, payload []byte) error {
	header := fmt.Sprintf(
		"WARC/1.0\r\n"+
			"WARC-Type: %s\r\n"+
			"WARC-Target-URI: %s\r\n"+
			"WARC-Date: %s\r\n"+
			"WARC-Record-ID: <urn:uuid:%s>\r\n"+
			"Content-Type: application/http; msgtype=%s\r\n"+
			"Content-Length: %d\r\n\r\n",
		recordType, targetURL, now.UTC().Format(time.RFC3339), uuid.NewString(), recordType, len(payload))

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n\r\n")
	return err
}

func formatHTTPHeaders(h http.Header) string {
	if h == nil {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := ""
	for _, k := range keys {
		for _, v := range h[k] {
			s += k + ": " + v + "\r\n"
		}
	}
	return s
}
