package vocabulary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVocabDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestLoadAndIsValid(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "- technology/ai\n- technology/ai/embeddings\n- finance/tax\n",
		"places.yaml": "- europe/berlin\n",
	})

	v, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, v.IsValid(KindTopics, "technology/ai/embeddings"))
	assert.True(t, v.IsValid(KindTopics, "technology/ai"))
	// Prefixes of declared paths are valid nodes.
	assert.True(t, v.IsValid(KindTopics, "technology"))
	assert.True(t, v.IsValid(KindTopics, "finance"))
	assert.False(t, v.IsValid(KindTopics, "technology/blockchain"))
	assert.False(t, v.IsValid(KindTopics, ""))

	// Missing file yields an empty tree, not an error.
	assert.False(t, v.IsValid(KindProjects, "anything"))

	assert.True(t, v.IsValid(KindPlaces, "europe/berlin"))
}

func TestLoadMalformedFailsFast(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "{{ not yaml :::",
	})

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topics")
}

func TestClassify(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "- technology/ai\n- technology/ai/embeddings\n- home/garden\n",
	})
	v, err := Load(dir)
	require.NoError(t, err)

	t.Run("exact path passes through", func(t *testing.T) {
		controlled, suggested := v.Classify([]string{"technology/ai"}, KindTopics)
		assert.Equal(t, []string{"technology/ai"}, controlled)
		assert.Empty(t, suggested)
	})

	t.Run("close tag snaps to leaf", func(t *testing.T) {
		controlled, suggested := v.Classify([]string{"Embeddings"}, KindTopics)
		assert.Equal(t, []string{"technology/ai/embeddings"}, controlled)
		assert.Empty(t, suggested)
	})

	t.Run("distant tag becomes suggestion", func(t *testing.T) {
		controlled, suggested := v.Classify([]string{"ml-embeddings"}, KindTopics)
		assert.Empty(t, controlled)
		assert.Equal(t, []string{"ml-embeddings"}, suggested)
	})

	t.Run("suggestions are counted", func(t *testing.T) {
		v.Classify([]string{"quantum-computing"}, KindTopics)
		v.Classify([]string{"quantum-computing"}, KindTopics)

		var found *Suggestion
		for _, s := range v.Suggestions() {
			if s.Tag == "quantum-computing" {
				copied := s
				found = &copied
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, 2, found.Occurrences)
		assert.WithinDuration(t, time.Now(), found.LastSeen, time.Minute)
	})
}

func TestMatchDoesNotRecordSuggestions(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "- technology/ai/embeddings\n- finance/tax\n",
	})
	v, err := Load(dir)
	require.NoError(t, err)

	path, score := v.Match(KindTopics, "embeddings")
	assert.Equal(t, "technology/ai/embeddings", path)
	assert.Greater(t, score, ClassifyThreshold)

	path, score = v.Match(KindTopics, "finance/tax")
	assert.Equal(t, "finance/tax", path)
	assert.Equal(t, 1.0, score)

	_, score = v.Match(KindTopics, "gardening")
	assert.LessOrEqual(t, score, ClassifyThreshold)
	assert.Empty(t, v.Suggestions())
}

func TestReloadSwapsState(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "- technology/ai\n",
	})
	v, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, v.IsValid(KindTopics, "finance/tax"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "topics.yaml"),
		[]byte("- technology/ai\n- finance/tax\n"), 0644))
	require.NoError(t, v.Reload())

	assert.True(t, v.IsValid(KindTopics, "finance/tax"))
}

func TestMatchProjects(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{})
	v, err := Load(dir)
	require.NoError(t, err)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	watchlist := []WatchlistEntry{
		{Project: "work/homelab", Names: []string{"Proxmox", "homelab"}},
		{Project: "work/migration", Names: []string{"datacenter move"}, ActiveFrom: &from, ActiveTo: &to},
	}

	t.Run("alias hit", func(t *testing.T) {
		got := v.MatchProjects("Installed Proxmox on the new node.", time.Time{}, watchlist)
		assert.Equal(t, []string{"work/homelab"}, got)
	})

	t.Run("word boundary respected", func(t *testing.T) {
		got := v.MatchProjects("the proxmoxx tool", time.Time{}, watchlist)
		assert.Empty(t, got)
	})

	t.Run("date window excludes", func(t *testing.T) {
		late := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
		got := v.MatchProjects("planning the datacenter move", late, watchlist)
		assert.Empty(t, got)

		inside := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		got = v.MatchProjects("planning the datacenter move", inside, watchlist)
		assert.Equal(t, []string{"work/migration"}, got)
	})
}

func TestLoadNestedMapForm(t *testing.T) {
	dir := writeVocabDir(t, map[string]string{
		"topics.yaml": "technology:\n  ai:\n    - embeddings\n    - agents\n",
	})
	v, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, v.IsValid(KindTopics, "technology/ai/embeddings"))
	assert.True(t, v.IsValid(KindTopics, "technology/ai/agents"))
	assert.True(t, v.IsValid(KindTopics, "technology/ai"))
}
