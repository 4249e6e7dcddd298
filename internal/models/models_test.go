package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{in: "Contract", want: CategoryContract},
		{in: "contract", want: CategoryContract},
		{in: " MEDICAL ", want: CategoryMedical},
		{in: "other", want: CategoryOther},
		{in: "Umowy", want: CategoryContract},
		{in: "Medyczne", want: CategoryMedical},
		{in: "invoices", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCategory(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCategories_Dedupes(t *testing.T) {
	got, err := ParseCategories([]string{"Contract", "umowy", "Medical"})
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryContract, CategoryMedical}, got)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("embed: %w", ErrTransientProvider)))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", ErrStorageUnavailable)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrDocumentEmpty))
	assert.False(t, IsTransient(fmt.Errorf("%w: %w", ErrFatalProvider, ErrTransientProvider)))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestQueryRequest_Validate(t *testing.T) {
	assert.ErrorIs(t, QueryRequest{Question: "  "}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, QueryRequest{Question: "q", Categories: []Category{"x"}}.Validate(), ErrInvalidInput)
	assert.NoError(t, QueryRequest{Question: "q", Categories: []Category{CategoryMedical}}.Validate())
}

func TestRetrievedContext_DocumentIDs(t *testing.T) {
	rc := RetrievedContext{
		{DocumentID: "b", Ordinal: 3},
		{DocumentID: "a", Ordinal: 0},
		{DocumentID: "b", Ordinal: 1},
	}
	assert.Equal(t, []string{"b", "a"}, rc.DocumentIDs())
	assert.Empty(t, RetrievedContext{}.DocumentIDs())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobDuplicate.Terminal())
}

func TestChunkKey_String(t *testing.T) {
	c := Chunk{DocumentID: "doc", Ordinal: 7}
	assert.Equal(t, "doc:7", c.Key().String())
}
