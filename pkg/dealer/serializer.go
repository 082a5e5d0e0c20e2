package dealer

import "encoding/json"

// Serialize encodes payload as JSON text.
func Serialize[T any](payload T) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &SerializationError{Err: err}
	}
	return string(data), nil
}

// SerializeMany encodes payloads as one JSON array. A nil slice encodes as [].
func SerializeMany[T any](payloads []T) (string, error) {
	if payloads == nil {
		payloads = []T{}
	}
	return Serialize(payloads)
}
