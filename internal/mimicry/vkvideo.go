package mimicry

import "fmt"

func wrapVkVideo(record []byte) ([]byte, error) {
	min, max := ProfileVkVideo.ChunkSizeRange()
	chunked := len(record) > min

	rangeStart := 0
	rangeEnd := len(record) - 1
	if rangeEnd < 0 {
		rangeEnd = 0
	}

	header := []headerField{
		{"Content-Type", "video/mp2t"},
		{"Content-Range", fmt.Sprintf("bytes %d-%d/%d", rangeStart, rangeEnd, len(record))},
		{"X-VK-Session", randomHex(16)},
		{"X-VK-Quality", "1080p"},
		{"Cache-Control", "no-cache"},
	}
	return buildResponse("HTTP/1.1 206 Partial Content", header, record, chunked, min, max), nil
}

func unwrapVkVideo(envelope []byte) ([]byte, error) {
	status, header, body, err := parseResponse(envelope)
	if err != nil {
		return nil, err
	}
	if status != 206 {
		return nil, ErrMalformedEnvelope
	}
	if _, err := requireHeader(header, "Content-Type"); err != nil {
		return nil, err
	}
	if _, err := requireHeader(header, "Content-Range"); err != nil {
		return nil, err
	}
	if _, err := requireHeader(header, "X-VK-Session"); err != nil {
		return nil, err
	}
	return body, nil
}
