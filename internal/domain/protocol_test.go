package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenContentText(t *testing.T) {
	blocks := []ContentBlock{
		json.RawMessage(`{"type":"text","text":"first"}`),
		json.RawMessage(`{"type":"text","text":"second"}`),
	}
	assert.Equal(t, "first\nsecond", FlattenContent(blocks))
}

func TestFlattenContentOpaqueBlocks(t *testing.T) {
	blocks := []ContentBlock{
		json.RawMessage(`{"type":"image", "data": "aGk="}`),
	}
	assert.Equal(t, `{"type":"image","data":"aGk="}`, FlattenContent(blocks))
}

func TestFlattenContentEmpty(t *testing.T) {
	assert.Equal(t, "", FlattenContent(nil))
}

func TestIsMethodNotFound(t *testing.T) {
	err := &RemoteError{Code: CodeMethodNotFound, Method: MethodResourcesList, Message: "method not found"}
	assert.True(t, IsMethodNotFound(err))
	assert.False(t, IsMethodNotFound(&RemoteError{Code: -32000, Method: MethodToolsCall}))
	assert.False(t, IsMethodNotFound(nil))
}
