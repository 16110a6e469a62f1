package eventbus

import "encoding/json"

// JSONCodec is the default Codec, round-tripping payloads through JSON. It
// is what every transport in this package uses on the wire.
type JSONCodec struct{}

func (JSONCodec) Encode(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

func (JSONCodec) Decode(data []byte, out *interface{}) error {
	return json.Unmarshal(data, out)
}
