package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrivateTags(t *testing.T) {
	in := "keep this <private>drop this</private> and this <private>and\nthis multiline</private>"
	assert.Equal(t, "keep this  and this", StripPrivateTags(in))
	assert.Equal(t, "untouched", StripPrivateTags("untouched"))
}

func TestHasOnlyPrivateContent(t *testing.T) {
	assert.True(t, HasOnlyPrivateContent("  <private>secret</private>  "))
	assert.True(t, HasOnlyPrivateContent("<private>a</private><private>b</private>"))
	assert.False(t, HasOnlyPrivateContent("visible <private>secret</private>"))
}
