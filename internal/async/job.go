package async

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

const jobContentType = "application/json"

// Job asks a worker to extract the text of one document.
type Job struct {
	DocumentID uuid.UUID `json:"documentId"`
}

var jobSchemaMap = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"documentId": map[string]any{
			"type":    "string",
			"pattern": `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
		},
	},
	"required": []string{"documentId"},
}

var (
	jobSchemaOnce sync.Once
	jobSchema     *jsonschema.Schema
	jobSchemaErr  error
)

func compiledJobSchema() (*jsonschema.Schema, error) {
	jobSchemaOnce.Do(func() {
		b, err := json.Marshal(jobSchemaMap)
		if err != nil {
			jobSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("job.json", bytes.NewReader(b)); err != nil {
			jobSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		jobSchema, jobSchemaErr = compiler.Compile("job.json")
	})
	return jobSchema, jobSchemaErr
}

// NewJobMessage encodes job as a persistent JSON message keyed by document id.
func NewJobMessage(job Job) (Message, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return Message{}, err
	}
	return Message{
		MessageID:   job.DocumentID.String(),
		ContentType: jobContentType,
		Body:        body,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// DecodeJob parses a job payload. Any error wraps common.ErrPoisonMessage.
func DecodeJob(body []byte) (Job, error) {
	schema, err := compiledJobSchema()
	if err != nil {
		return Job{}, err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return Job{}, fmt.Errorf("%w: malformed json: %w", common.ErrPoisonMessage, err)
	}
	if err := schema.Validate(v); err != nil {
		return Job{}, fmt.Errorf("%w: payload does not match schema: %w", common.ErrPoisonMessage, err)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %w", common.ErrPoisonMessage, err)
	}
	return job, nil
}
