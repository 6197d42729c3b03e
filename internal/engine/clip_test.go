// ABOUTME: Tests for clip requests and playing instances
// ABOUTME: Covers copying, equality, naming and progress
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoundClip_Clone(t *testing.T) {
	sent := time.Now()
	c := SoundClip{
		Name:           "Airhorn",
		Path:           "airhorn.mp3",
		Volume:         70,
		Targets:        []OutputTarget{{Device: "Speakers", Volume: 50}},
		ClientSendTime: &sent,
	}

	d := c.Clone()
	d.Targets[0].Volume = 10
	*d.ClientSendTime = sent.Add(time.Hour)

	assert.Equal(t, 50, c.Targets[0].Volume)
	assert.True(t, c.ClientSendTime.Equal(sent))
}

func TestSoundClip_Equal(t *testing.T) {
	sent := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	base := SoundClip{
		ID:             "one",
		Path:           "a.wav",
		Volume:         100,
		Targets:        []OutputTarget{{Device: "Speakers", Volume: 100}},
		ClientSendTime: &sent,
	}

	other := base.Clone()
	other.ID = "two"
	assert.True(t, base.Equal(other), "ID is ignored")

	other.Targets = append(other.Targets, OutputTarget{Device: "HDMI"})
	assert.False(t, base.Equal(other))

	other = base.Clone()
	other.ClientSendTime = nil
	assert.False(t, base.Equal(other))

	other = base.Clone()
	other.Loop = true
	assert.False(t, base.Equal(other))
}

func TestSoundClip_DisplayName(t *testing.T) {
	assert.Equal(t, "Named", SoundClip{Name: "Named", Path: "/x/y.wav"}.DisplayName())
	assert.Equal(t, "y", SoundClip{Path: "/x/y.wav"}.DisplayName())
	assert.Equal(t, "archive.tar", NameFromPath("dir/archive.tar.gz"))
}

func TestNewPlayingClip(t *testing.T) {
	p := PlayParams{Path: "a.wav", Name: "a", Device: "Speakers", Volume: 40, Multiplier: 90, Loop: true}

	_, err := NewPlayingClip(p, 1, 0)
	assert.ErrorIs(t, err, ErrZeroLength)

	_, err = NewPlayingClip(p, 1, -time.Second)
	assert.ErrorIs(t, err, ErrZeroLength)

	inst, err := NewPlayingClip(p, 7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, inst.Handle)
	assert.Zero(t, inst.Position)
	assert.Equal(t, "a - Speakers", inst.String())
	assert.Equal(t, p, inst.Params())
}

func TestPlayingClip_Progress(t *testing.T) {
	p := &PlayingClip{Length: time.Second}
	assert.Zero(t, p.Progress())
	assert.False(t, p.Done())

	p.Position = 250 * time.Millisecond
	assert.InDelta(t, 0.25, p.Progress(), 1e-9)

	p.Position = 1200 * time.Millisecond
	assert.Equal(t, 1.0, p.Progress())
	assert.True(t, p.Done())
}
