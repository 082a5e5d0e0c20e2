package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"procodus.dev/busdealer/pkg/generator"
)

var errNoPayloads = errors.New("no payloads: use --file, --data or --fake")

// readPayloads decodes r as JSON. A top-level array yields one payload per
// element; any other value yields a single payload.
func readPayloads(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errNoPayloads
	}

	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode payload list: %w", err)
		}
		return list, nil
	}

	if !json.Valid(data) {
		return nil, errors.New("decode payload: invalid JSON")
	}
	return []json.RawMessage{json.RawMessage(data)}, nil
}

// loadPayloads resolves the payload source of the send command.
// Sources are checked in order: fake, data, file ("-" reads stdin).
func loadPayloads(fake int, data, file string, stdin io.Reader) ([]json.RawMessage, error) {
	switch {
	case fake > 0:
		return fakePayloads(fake)
	case data != "":
		return readPayloads(bytes.NewBufferString(data))
	case file == "-":
		return readPayloads(stdin)
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open payload file: %w", err)
		}
		defer f.Close()
		return readPayloads(f)
	default:
		return nil, errNoPayloads
	}
}

func fakePayloads(n int) ([]json.RawMessage, error) {
	commands := generator.NewCommands(n)
	payloads := make([]json.RawMessage, 0, len(commands))
	for _, c := range commands {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode fake command: %w", err)
		}
		payloads = append(payloads, b)
	}
	return payloads, nil
}
