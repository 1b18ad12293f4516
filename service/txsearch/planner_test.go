package txsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_DefaultAngles(t *testing.T) {
	specs := NewPlanner().Plan("cosmos1abc")

	require.Len(t, specs, 5)
	assert.Equal(t, "message-sender", specs[0].Name())
	assert.Equal(t, "message.sender='cosmos1abc'", specs[0].String())
	assert.Equal(t, "transfer.recipient='cosmos1abc'", specs[1].String())
	assert.Equal(t, "coin_received.receiver='cosmos1abc'", specs[3].String())
}

func TestPlanner_HeightRange(t *testing.T) {
	p := NewPlanner(Angle{Name: "message-sender", EventKey: "message.sender"}).WithHeightRange(10, 20)

	specs := p.Plan("A")
	require.Len(t, specs, 1)
	assert.Equal(t, "message.sender='A' AND tx.height>=10 AND tx.height<=20", specs[0].String())

	open := NewPlanner(Angle{Name: "s", EventKey: "message.sender"}).WithHeightRange(0, 20)
	assert.Equal(t, "message.sender='A' AND tx.height<=20", open.Plan("A")[0].String())
}

func TestAnglesFor(t *testing.T) {
	angles, err := AnglesFor("core", "ibc")
	require.NoError(t, err)
	assert.Len(t, angles, 7)
	assert.Equal(t, GroupIBC, angles[len(angles)-1].Group)

	angles, err = AnglesFor("proposal-voter")
	require.NoError(t, err)
	require.Len(t, angles, 1)
	assert.Equal(t, "proposal_vote.voter", angles[0].EventKey)

	_, err = AnglesFor("core", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = AnglesFor(" ")
	assert.Error(t, err)
}

func TestCatalogue_ReturnsCopy(t *testing.T) {
	c := Catalogue()
	c[0].EventKey = "changed"
	assert.Equal(t, "message.sender", Catalogue()[0].EventKey)
}
