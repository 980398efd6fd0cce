package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/domain"
)

func TestMethodSchemasCompile(t *testing.T) {
	v, err := newPayloadValidator(methodSchemas)
	require.NoError(t, err)
	assert.Len(t, v.schemas, len(methodSchemas))
}

func TestPayloadValidator(t *testing.T) {
	v, err := newPayloadValidator(methodSchemas)
	require.NoError(t, err)

	tests := []struct {
		name    string
		method  string
		payload string
		wantErr bool
	}{
		{"send ok", "chat.send", `{"text":"a cat"}`, false},
		{"send empty text allowed", "chat.send", `{"text":""}`, false},
		{"send missing text", "chat.send", `{}`, true},
		{"send extra field", "chat.send", `{"text":"x","model":"y"}`, true},
		{"ask empty", "chat.ask", `{"text":""}`, true},
		{"mode enum", "chat.mode", `{"mode":"paint"}`, true},
		{"mode ok", "chat.mode", `{"mode":"edit"}`, false},
		{"upload no files", "chat.upload", `{"designation":"primary","files":[]}`, true},
		{"upload bad designation", "chat.upload", `{"designation":"main","files":[{"name":"a","content_type":"image/png","data":"AA=="}]}`, true},
		{"upload ok", "chat.upload", `{"designation":"reference","files":[{"name":"a","content_type":"image/png","data":"AA=="}]}`, false},
		{"analyze no payload", "chat.analyze", ``, false},
		{"clear scope", "chat.clear", `{"scope":"everything"}`, true},
		{"unschema'd method", "chat.reset", ``, false},
		{"invalid json", "chat.send", `{"text":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.method, json.RawMessage(tt.payload))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrRPCInvalidParams))
		})
	}
}

func TestValidationDetailPointsAtField(t *testing.T) {
	v, err := newPayloadValidator(methodSchemas)
	require.NoError(t, err)

	err = v.Validate("chat.edit", json.RawMessage(`{"message_id":"","text":"x"}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "/message_id"), err.Error())
}
