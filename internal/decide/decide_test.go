package decide

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide_NoPriorIsAdd(t *testing.T) {
	got := Decide(Stat{Size: 10, ModTime: time.Now()}, Prior{})
	assert.Equal(t, Add, got)
}

func TestDecide_UnchangedIsSkip(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := Stat{Size: 42, ModTime: mtime}
	prior := Prior{HasRecord: true, Size: 42, ModTime: mtime}

	assert.Equal(t, Skip, Decide(stat, prior))
}

func TestDecide_SizeChangedIsMod(t *testing.T) {
	mtime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := Stat{Size: 43, ModTime: mtime}
	prior := Prior{HasRecord: true, Size: 42, ModTime: mtime}

	assert.Equal(t, Mod, Decide(stat, prior))
}

func TestDecide_MtimeChangedIsMod(t *testing.T) {
	prior := Prior{HasRecord: true, Size: 42, ModTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	stat := Stat{Size: 42, ModTime: time.Date(2026, 1, 1, 0, 0, 0, 1, time.UTC)}

	assert.Equal(t, Mod, Decide(stat, prior))
}

func TestDecide_SubSecondDriftStillMod(t *testing.T) {
	// Sub-second precision drift is a real write, not tolerance noise.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := Prior{HasRecord: true, Size: 42, ModTime: base}
	stat := Stat{Size: 42, ModTime: base.Add(250 * time.Millisecond)}

	assert.Equal(t, Mod, Decide(stat, prior))
}
