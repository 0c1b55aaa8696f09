package packdock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextRevisionIncrements(t *testing.T) {
	rev := NextRevision(InitialRevision)
	assert.Equal(t, 1, RevisionCounter(rev))

	rev = NextRevision(rev)
	assert.Equal(t, 2, RevisionCounter(rev))
}

func TestNextRevisionFreshSuffix(t *testing.T) {
	a := NextRevision(InitialRevision)
	b := NextRevision(InitialRevision)
	assert.NotEqual(t, a, b)
}

func TestNextRevisionMalformedInput(t *testing.T) {
	// Garbage restarts the counter rather than failing the write.
	assert.Equal(t, 1, RevisionCounter(NextRevision("not-a-rev")))
	assert.Equal(t, 1, RevisionCounter(NextRevision("")))
}

func TestRevisionCounter(t *testing.T) {
	assert.Equal(t, 0, RevisionCounter(InitialRevision))
	assert.Equal(t, 12, RevisionCounter("12-deadbeefcafe0123"))
	assert.Equal(t, 0, RevisionCounter("xyz"))
	assert.Equal(t, 0, RevisionCounter("-5"))
}
