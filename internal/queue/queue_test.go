package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/models"
)

func TestNewTaskEncodesPayload(t *testing.T) {
	task, err := NewTask(TypeIngestFile, IngestFilePayload{File: models.FileMetadata{StoredFilename: "a_12345678.txt"}})
	require.NoError(t, err)
	assert.Equal(t, TypeIngestFile, task.Type())

	var p IngestFilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "a_12345678.txt", p.File.StoredFilename)
}

func TestRegistryRoutesByType(t *testing.T) {
	r := NewHandlersRegistry()
	var got string
	r.Register(TypeIngestFile, asynq.HandlerFunc(func(_ context.Context, t *asynq.Task) error {
		got = string(t.Payload())
		return nil
	}))

	require.NoError(t, r.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeIngestFile, []byte("x"))))
	assert.Equal(t, "x", got)
	assert.Error(t, r.Mux().ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil)))
}
