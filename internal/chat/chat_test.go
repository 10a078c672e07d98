package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worida2025/sonatrach-manager/internal/docstore"
)

type fakeModel struct {
	response  string
	proposals []FieldProposal
	err       error
	lastUser  string
}

func (f *fakeModel) Complete(_ context.Context, _, user string) (string, []FieldProposal, error) {
	f.lastUser = user
	if f.err != nil {
		return "", nil, f.err
	}
	return f.response, f.proposals, nil
}

type fakeTurnStore struct {
	merged []docstore.ChatTurn
	err    error
}

func (f *fakeTurnStore) MergeChatTurn(_ context.Context, _ string, turn docstore.ChatTurn) (docstore.ChatTurn, error) {
	if f.err != nil {
		return docstore.ChatTurn{}, f.err
	}
	turn.ID = "turn-1"
	f.merged = append(f.merged, turn)
	return turn, nil
}

func TestSubmitMergesSingleField(t *testing.T) {
	model := &fakeModel{
		response:  "The pressure rating is 300 PSI.",
		proposals: []FieldProposal{{Name: "Pressure", Value: "300 PSI"}},
	}
	store := &fakeTurnStore{}
	session := NewSession("doc-1", model, store, 1000, nil)

	turn, err := session.Submit(context.Background(),
		"extract the pressure", "Pressure: 300 PSI", nil)
	require.NoError(t, err)

	assert.Equal(t, StateMerged, session.State())
	assert.Equal(t, map[string]string{"Pressure": "300 PSI"}, turn.ExtractedFields)
	require.Len(t, store.merged, 1)
	assert.Equal(t, "extract the pressure", store.merged[0].Message)
}

func TestSubmitKeepsOnlyFirstProposal(t *testing.T) {
	model := &fakeModel{
		response: "Found two values.",
		proposals: []FieldProposal{
			{Name: "Pressure", Value: "300 PSI"},
			{Name: "Temperature", Value: "80 C"},
		},
	}
	store := &fakeTurnStore{}
	session := NewSession("doc-1", model, store, 1000, nil)

	turn, err := session.Submit(context.Background(), "extract everything", "text", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Pressure": "300 PSI"}, turn.ExtractedFields,
		"later proposals are discarded without error")
}

func TestSubmitWithoutProposalStillRecordsTurn(t *testing.T) {
	model := &fakeModel{response: "This document describes a compressor."}
	store := &fakeTurnStore{}
	session := NewSession("doc-1", model, store, 1000, nil)

	turn, err := session.Submit(context.Background(), "what is this?", "text", nil)
	require.NoError(t, err)

	assert.Empty(t, turn.ExtractedFields)
	require.Len(t, store.merged, 1)
	assert.Equal(t, StateMerged, session.State())
}

func TestSubmitModelFailurePersistsNothing(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	store := &fakeTurnStore{}
	session := NewSession("doc-1", model, store, 1000, nil)

	_, err := session.Submit(context.Background(), "extract the pressure", "text", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamModel))

	assert.Empty(t, store.merged, "failed turn must not be persisted")
	assert.Equal(t, StateAwaitingUserMessage, session.State())
}

func TestSubmitStoreFailureResetsState(t *testing.T) {
	model := &fakeModel{response: "ok"}
	store := &fakeTurnStore{err: errors.New("disk full")}
	session := NewSession("doc-1", model, store, 1000, nil)

	_, err := session.Submit(context.Background(), "hello", "text", nil)
	require.Error(t, err)
	assert.Equal(t, StateAwaitingUserMessage, session.State())
}

func TestBuildPromptIncludesContextAndFields(t *testing.T) {
	_, user := BuildPrompt("COMPRESSOR DATA SHEET", map[string]string{
		"Model": "KX-500",
	}, "what is the flow rate?", 1000)

	assert.Contains(t, user, "COMPRESSOR DATA SHEET")
	assert.Contains(t, user, "- Model: KX-500")
	assert.Contains(t, user, "what is the flow rate?")
	assert.Contains(t, user, `"field_name"`)
}

func TestBuildPromptClipsDocumentText(t *testing.T) {
	long := strings.Repeat("x", 500)
	_, user := BuildPrompt(long, nil, "q", 100)

	assert.Contains(t, user, "[document truncated]")
	assert.NotContains(t, user, strings.Repeat("x", 101))
}

func TestParseProposals(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []FieldProposal
	}{
		{
			name: "trailing object",
			text: "The pressure is 300 PSI.\n{\"field_name\": \"Pressure\", \"field_value\": \"300 PSI\"}",
			want: []FieldProposal{{Name: "Pressure", Value: "300 PSI"}},
		},
		{
			name: "fenced json",
			text: "Here you go:\n```json\n{\"field_name\": \"Model\", \"field_value\": \"KX-500\"}\n```",
			want: []FieldProposal{{Name: "Model", Value: "KX-500"}},
		},
		{
			name: "multiple objects in order",
			text: `{"field_name": "A", "field_value": "1"} and {"field_name": "B", "field_value": "2"}`,
			want: []FieldProposal{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}},
		},
		{
			name: "object without field_name skipped",
			text: `{"note": "nothing here"}`,
			want: nil,
		},
		{
			name: "prose only",
			text: "I could not find that value in the document.",
			want: nil,
		},
		{
			name: "braces inside string values",
			text: `{"field_name": "Note", "field_value": "use {caution}"}`,
			want: []FieldProposal{{Name: "Note", Value: "use {caution}"}},
		},
		{
			name: "malformed json ignored",
			text: `{"field_name": "Pressure", "field_value": }`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProposals(tt.text))
		})
	}
}
