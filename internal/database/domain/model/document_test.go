package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeFields_NewFieldsWin(t *testing.T) {
	base := map[string]interface{}{"id": "1", "a": 1, "b": 2}
	merged := MergeFields(base, map[string]interface{}{"b": 3, "c": 4})

	assert.Equal(t, Document{"id": "1", "a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, 2, base["b"], "base must not be modified")
}

func TestMergeFields_NilInputs(t *testing.T) {
	assert.Equal(t, Document{}, MergeFields(nil, nil))
	assert.Equal(t, Document{"a": 1}, MergeFields(nil, map[string]interface{}{"a": 1}))
}

func TestWithID(t *testing.T) {
	doc := WithID(map[string]interface{}{"id": "caller", "x": 1}, "assigned")
	assert.Equal(t, "assigned", doc.ID())
	assert.Equal(t, 1, doc["x"])
	assert.Equal(t, "", Document{"id": 7}.ID())
}

func TestDocument_Clone(t *testing.T) {
	orig := Document{"tags": []interface{}{"a"}, "nested": map[string]interface{}{"k": "v"}}
	cp := orig.Clone()

	cp["tags"].([]interface{})[0] = "changed"
	cp["nested"].(map[string]interface{})["k"] = "changed"

	assert.Equal(t, "a", orig["tags"].([]interface{})[0])
	assert.Equal(t, "v", orig["nested"].(map[string]interface{})["k"])
	assert.Nil(t, Document(nil).Clone())
}

func TestChangeEvent_Kind(t *testing.T) {
	assert.Equal(t, ChangeCreated, ChangeEvent{NewValue: Document{"id": "1"}}.Kind())
	assert.Equal(t, ChangeUpdated, ChangeEvent{OldValue: Document{"id": "1"}, NewValue: Document{"id": "1"}}.Kind())
	assert.Equal(t, ChangeDeleted, ChangeEvent{OldValue: Document{"id": "1"}}.Kind())
	assert.Equal(t, ChangeError, ChangeEvent{Err: errors.New("lost")}.Kind())
}
