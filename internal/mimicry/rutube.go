package mimicry

func wrapRuTube(record []byte) ([]byte, error) {
	min, max := ProfileRuTube.ChunkSizeRange()
	chunked := len(record) > min

	header := []headerField{
		{"Content-Type", "video/mp2t"},
		{"X-RuTube-Session", randomHex(16)},
		{"X-RuTube-Device-Id", randomHex(8)},
		{"X-RuTube-Cache", "HIT"},
	}
	return buildResponse("HTTP/1.1 200 OK", header, record, chunked, min, max), nil
}

func unwrapRuTube(envelope []byte) ([]byte, error) {
	status, header, body, err := parseResponse(envelope)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, ErrMalformedEnvelope
	}
	if _, err := requireHeader(header, "X-RuTube-Session"); err != nil {
		return nil, err
	}
	if _, err := requireHeader(header, "X-RuTube-Device-Id"); err != nil {
		return nil, err
	}
	return body, nil
}
