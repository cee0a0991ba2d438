package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	frameSchemaURL    = "https://peersync.local/schema/frame.json"
	envelopeSchemaURL = "https://peersync.local/schema/envelope.json"
)

var (
	schemasOnce    sync.Once
	frameSchema    *jsonschema.Schema
	envelopeSchema *jsonschema.Schema
	schemasErr     error
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for url, file := range map[string]string{
			frameSchemaURL:    "schema/frame.json",
			envelopeSchemaURL: "schema/envelope.json",
		} {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				schemasErr = fmt.Errorf("failed to read schema %s: %w", file, err)
				return
			}
			if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("failed to add schema %s: %w", file, err)
				return
			}
		}

		if frameSchema, schemasErr = compiler.Compile(frameSchemaURL); schemasErr != nil {
			return
		}
		envelopeSchema, schemasErr = compiler.Compile(envelopeSchemaURL)
	})
	return schemasErr
}

// DecodeFrame проверяет кадр по схеме и декодирует его
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := decodeValidated(data, frameSchemaURL, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecodeEnvelope проверяет расшифрованное сообщение по схеме и декодирует его.
// Числа в payload операций остаются json.Number, чтобы байты подписи совпадали.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := decodeValidated(data, envelopeSchemaURL, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeValidated(data []byte, url string, out any) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	schema := envelopeSchema
	if url == frameSchemaURL {
		schema = frameSchema
	}

	var raw any
	if err := decodeJSON(data, &raw); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("message does not match schema: %w", err)
	}
	if err := decodeJSON(data, out); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
