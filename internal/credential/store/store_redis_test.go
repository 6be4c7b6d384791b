package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"degreeproof/internal/credential/models"
)

func TestNaturalKeyIsUnambiguous(t *testing.T) {
	a := naturalKey(models.NaturalKey{InstituteID: "I:1", StudentID: "S"})
	b := naturalKey(models.NaturalKey{InstituteID: "I", StudentID: "1:S"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, "degreeproof:natural:3:I:1:S", a)
}
