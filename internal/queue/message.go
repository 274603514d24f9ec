package queue

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"catalogsync/internal/sheet"
)

// MessageType and MessageVersion are stamped on every published batch so
// consumers can pick the matching contract.
const (
	MessageType    = "SyncBatch"
	MessageVersion = "1.0.0"
	schemaPath     = "schemas/batch_message.v1.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var batchSchema *jsonschema.Schema

// ErrInvalidMessage marks a body that does not satisfy the batch contract.
// Such messages are dropped, never requeued.
var ErrInvalidMessage = errors.New("invalid batch message")

func init() {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	f, err := schemaFS.Open(schemaPath)
	if err != nil {
		panic(fmt.Sprintf("queue: open schema: %v", err))
	}
	defer f.Close()

	if err := compiler.AddResource(schemaPath, f); err != nil {
		panic(fmt.Sprintf("queue: add schema: %v", err))
	}
	batchSchema, err = compiler.Compile(schemaPath)
	if err != nil {
		panic(fmt.Sprintf("queue: compile schema: %v", err))
	}
}

// BatchMessage carries one batch of an asynchronous run.
type BatchMessage struct {
	RunID        string         `json:"run_id"`
	Records      []sheet.Record `json:"records"`
	BatchNumber  int            `json:"batch_number"`
	TotalBatches int            `json:"total_batches"`
}

// Last reports whether this is the final batch of its run.
func (m BatchMessage) Last() bool {
	return m.BatchNumber >= m.TotalBatches
}

// Encode serializes a message after checking it against the contract.
func Encode(msg BatchMessage) ([]byte, error) {
	if msg.Records == nil {
		msg.Records = []sheet.Record{}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal batch message: %w", err)
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Decode validates body against the contract and unmarshals it.
func Decode(body []byte) (BatchMessage, error) {
	var msg BatchMessage
	if err := ValidateBody(body); err != nil {
		return msg, err
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// ValidateBody checks a raw message body against the batch JSON schema.
func ValidateBody(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: body is not valid JSON: %v", ErrInvalidMessage, err)
	}
	if err := batchSchema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
