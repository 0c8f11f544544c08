package model

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInput, KindOf(NewInputError("bad ticket")))
	assert.Equal(t, KindLocked, KindOf(NewLockedError("locked")))
	assert.Equal(t, KindStorage, KindOf(NewStorageError("bad record", nil)))
	assert.Equal(t, KindConfiguration, KindOf(NewConfigurationError("bad rule")))
	assert.Equal(t, ErrorKind(""), KindOf(eris.New("plain")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := eris.Wrap(NewLockedError("record locked"), "stage: put")
	assert.True(t, IsKind(err, KindLocked))
	assert.False(t, IsKind(err, KindStorage))
}

func TestPipelineErrorMessage(t *testing.T) {
	err := NewStorageError("invalid latitude", eris.New("91.5"))
	assert.Contains(t, err.Error(), "invalid latitude")
	assert.Contains(t, err.Error(), "91.5")
}
