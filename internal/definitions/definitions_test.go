package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesPoolsAndMusic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "station.yaml", `
name: Test Radio
id:
  - jingle1
music:
  - path: song1
    title: Song One
    artist: Artist A
    pre: "0:10"
    post: "0:20"
`)
	defs, err := Load([]string{filepath.Join(dir, "station.yaml")}, "ogg")
	require.NoError(t, err)

	assert.Equal(t, "Test Radio", defs.Name)
	assert.Equal(t, []string{filepath.Join(dir, "jingle1.ogg")}, defs.Pools["id"])
	require.Len(t, defs.Music, 1)
	assert.Equal(t, filepath.Join(dir, "song1.ogg"), defs.Music[0].Path)
	assert.Equal(t, "Song One", defs.Music[0].Title)
	assert.Equal(t, 10.0, defs.Music[0].Pre)
	assert.Equal(t, 20.0, defs.Music[0].Post)
}

func TestLoadFollowsInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
name: Base
include:
  - extra.yaml
general:
  - sting
`)
	writeFile(t, dir, "extra.yaml", `
ad:
  - commercial1
`)
	defs, err := Load([]string{filepath.Join(dir, "base.yaml")}, "ogg")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "sting.ogg")}, defs.Pools["general"])
	assert.Equal(t, []string{filepath.Join(dir, "commercial1.ogg")}, defs.Pools["ad"])
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "bogus: [1, 2]\n")
	_, err := Load([]string{filepath.Join(dir, "bad.yaml")}, "ogg")
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMusicKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
music:
  - path: song
    title: T
    artist: A
    pre: "0:00"
    post: "0:00"
    bogus: true
`)
	_, err := Load([]string{filepath.Join(dir, "bad.yaml")}, "ogg")
	assert.Error(t, err)
}

func TestIntroMatchesByNonPathFieldEquality(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "station.yaml", `
music:
  - path: song1
    title: Song One
    artist: Artist A
    album: Album A
    pre: "0:10"
    post: "0:20"
intro:
  - path: song1-intro
    title: Song One
    artist: Artist A
    album: Album A
    pre: "0:10"
    post: "0:20"
`)
	defs, err := Load([]string{filepath.Join(dir, "station.yaml")}, "ogg")
	require.NoError(t, err)
	require.Len(t, defs.Music, 1)
	assert.Equal(t, []string{filepath.Join(dir, "song1-intro.ogg")}, defs.Music[0].Intros)
}

func TestMultipleIntrosAttachToOneTrack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "station.yaml", `
music:
  - path: song1
    title: Song One
    artist: Artist A
    pre: "0:10"
    post: "0:20"
intro:
  - path: intro-a
    title: Song One
    artist: Artist A
    pre: "0:10"
    post: "0:20"
  - path: intro-b
    title: Song One
    artist: Artist A
    pre: "0:10"
    post: "0:20"
`)
	defs, err := Load([]string{filepath.Join(dir, "station.yaml")}, "ogg")
	require.NoError(t, err)
	require.Len(t, defs.Music, 1)
	assert.Len(t, defs.Music[0].Intros, 2)
}

func TestIntroUnmatchedIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "station.yaml", `
music:
  - path: song1
    title: Song One
    artist: Artist A
    pre: "0:10"
    post: "0:20"
intro:
  - path: orphan-intro
    title: Nonexistent
    artist: Nobody
    pre: "0:00"
    post: "0:00"
`)
	_, err := Load([]string{filepath.Join(dir, "station.yaml")}, "ogg")
	assert.Error(t, err)
}

func TestIntroAmbiguousIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "station.yaml", `
music:
  - path: song1
    title: Same Title
    artist: Same Artist
    pre: "0:00"
    post: "0:00"
  - path: song2
    title: Same Title
    artist: Same Artist
    pre: "0:00"
    post: "0:00"
intro:
  - path: ambiguous-intro
    title: Same Title
    artist: Same Artist
    pre: "0:00"
    post: "0:00"
`)
	_, err := Load([]string{filepath.Join(dir, "station.yaml")}, "ogg")
	assert.Error(t, err)
}

func TestLintReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	absent := filepath.Join(dir, "missing.ogg")
	defs := &Definitions{
		Pools: map[string][]string{"id": {absent}},
	}
	assert.Equal(t, []string{absent}, Lint(defs))
}

func TestLintOKWhenEverythingExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.ogg")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))
	defs := &Definitions{Pools: map[string][]string{"id": {present}}}
	assert.Empty(t, Lint(defs))
}
