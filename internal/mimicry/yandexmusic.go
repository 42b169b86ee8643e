package mimicry

import "math/rand/v2"

var yandexContentTypes = []string{"audio/mpeg", "audio/aac", "audio/mp4"}

func wrapYandexMusic(record []byte) ([]byte, error) {
	min, max := ProfileYandexMusic.ChunkSizeRange()
	chunked := len(record) > min

	header := []headerField{
		{"Content-Type", yandexContentTypes[rand.IntN(len(yandexContentTypes))]},
		{"X-Yandex-Music-Session", randomHex(20)},
		{"X-Yandex-Req-Id", randomHex(12)},
		{"Cache-Control", "private, max-age=0"},
	}
	return buildResponse("HTTP/1.1 200 OK", header, record, chunked, min, max), nil
}

func unwrapYandexMusic(envelope []byte) ([]byte, error) {
	status, header, body, err := parseResponse(envelope)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, ErrMalformedEnvelope
	}
	if _, err := requireHeader(header, "Content-Type"); err != nil {
		return nil, err
	}
	if _, err := requireHeader(header, "X-Yandex-Music-Session"); err != nil {
		return nil, err
	}
	if _, err := requireHeader(header, "X-Yandex-Req-Id"); err != nil {
		return nil, err
	}
	return body, nil
}
